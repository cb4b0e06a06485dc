package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config — параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	// Endpoint — базовый URL хранилища (MinIO, Ceph RGW и т.п.)
	Endpoint string
	// Region — регион (для MinIO достаточно us-east-1)
	Region string
	// Bucket — бакет документов
	Bucket string
	// UsePathStyle — path-style адресация (требуется для MinIO)
	UsePathStyle bool
}

// S3Store — реализация ContentStore поверх S3 API.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *slog.Logger
}

// NewS3Store создаёт S3-клиент с переданным провайдером credentials.
// Провайдером может быть как статический ключ, так и кэш временных
// credentials (credcache.Cache) — клиент дергает Retrieve при подписи.
func NewS3Store(ctx context.Context, cfg S3Config, creds aws.CredentialsProvider, logger *slog.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации S3-клиента: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		logger:  logger.With("component", "s3store"),
	}, nil
}

// Put записывает объект и возвращает сгенерированный ключ.
func (s *S3Store) Put(ctx context.Context, reader io.Reader, size int64, fileName, contentType string) (string, error) {
	key := GenerateContentRef(fileName)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("ошибка записи объекта %s: %w", key, err)
	}

	s.logger.Debug("Объект записан",
		slog.String("key", key),
		slog.Int64("size", size),
	)
	return key, nil
}

// PresignGetURL выдаёт подписанный GET URL на validity.
// Подпись локальная, сетевых вызовов нет.
func (s *S3Store) PresignGetURL(ctx context.Context, contentRef string, validity time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(contentRef),
	}, s3.WithPresignExpires(validity))
	if err != nil {
		return "", fmt.Errorf("ошибка подписи URL для %s: %w", contentRef, err)
	}
	return req.URL, nil
}

// Delete удаляет объект. S3 DeleteObject идемпотентен:
// удаление отсутствующего ключа — успех.
func (s *S3Store) Delete(ctx context.Context, contentRef string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(contentRef),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта %s: %w", contentRef, err)
	}
	return nil
}

// ReadinessChecker — проверка доступности хранилища для health endpoint.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	store *S3Store
}

// NewReadinessChecker создаёт проверку доступности хранилища содержимого.
func NewReadinessChecker(store *S3Store) *ReadinessChecker {
	return &ReadinessChecker{store: store}
}

// CheckReady проверяет доступность бакета через HeadBucket.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := c.store.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.store.bucket),
	})
	if err != nil {
		return "fail", fmt.Sprintf("хранилище недоступно: %v", err)
	}
	return "ok", "бакет доступен"
}
