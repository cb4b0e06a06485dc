package credcache

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// STSIssuer — выпуск session credentials через STS GetSessionToken.
// Используется с S3-совместимыми хранилищами, поддерживающими STS
// (MinIO с включённым STS, AWS).
type STSIssuer struct {
	client *sts.Client
}

// NewSTSIssuer создаёт issuer поверх готового STS-клиента.
func NewSTSIssuer(client *sts.Client) *STSIssuer {
	return &STSIssuer{client: client}
}

// Issue запрашивает session token на validity.
// STS не позволяет выпускать credentials задним числом, поэтому
// validity должен уже включать запас на рассинхронизацию часов.
func (i *STSIssuer) Issue(ctx context.Context, validity time.Duration) (aws.Credentials, error) {
	out, err := i.client.GetSessionToken(ctx, &sts.GetSessionTokenInput{
		DurationSeconds: aws.Int32(int32(validity / time.Second)),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("STS GetSessionToken: %w", err)
	}
	cred := out.Credentials
	if cred == nil || cred.AccessKeyId == nil || cred.SecretAccessKey == nil {
		return aws.Credentials{}, fmt.Errorf("STS вернул пустые credentials")
	}

	result := aws.Credentials{
		AccessKeyID:     *cred.AccessKeyId,
		SecretAccessKey: *cred.SecretAccessKey,
		Source:          "STSIssuer",
		CanExpire:       true,
	}
	if cred.SessionToken != nil {
		result.SessionToken = *cred.SessionToken
	}
	if cred.Expiration != nil {
		result.Expires = *cred.Expiration
	}
	return result, nil
}
