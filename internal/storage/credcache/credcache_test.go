package credcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// mockIssuer — мок Issuer с настраиваемой функцией и счётчиком вызовов.
type mockIssuer struct {
	issueFunc func(ctx context.Context, validity time.Duration) (aws.Credentials, error)
	calls     atomic.Int64
}

func (m *mockIssuer) Issue(ctx context.Context, validity time.Duration) (aws.Credentials, error) {
	m.calls.Add(1)
	return m.issueFunc(ctx, validity)
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func validCreds() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     "AKIA-TEST",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		CanExpire:       true,
		Expires:         time.Now().Add(time.Hour),
	}
}

// TestRetrieve_ColdStart проверяет выпуск credentials при пустом кэше.
func TestRetrieve_ColdStart(t *testing.T) {
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			return validCreds(), nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	creds, err := cache.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve вернул ошибку: %v", err)
	}
	if creds.AccessKeyID != "AKIA-TEST" {
		t.Errorf("AccessKeyID = %q, ожидался 'AKIA-TEST'", creds.AccessKeyID)
	}
	if issuer.calls.Load() != 1 {
		t.Errorf("Issue вызван %d раз, ожидался 1", issuer.calls.Load())
	}
}

// TestRetrieve_CacheHit проверяет, что повторные вызовы не выпускают новые credentials.
func TestRetrieve_CacheHit(t *testing.T) {
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			return validCreds(), nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	for range 5 {
		if _, err := cache.Retrieve(context.Background()); err != nil {
			t.Fatalf("Retrieve вернул ошибку: %v", err)
		}
	}
	if issuer.calls.Load() != 1 {
		t.Errorf("Issue вызван %d раз, ожидался 1 (кэш)", issuer.calls.Load())
	}
}

// TestRetrieve_RefreshNearExpiry проверяет выпуск новых credentials,
// когда до истечения закэшированных меньше 5 минут.
func TestRetrieve_RefreshNearExpiry(t *testing.T) {
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			c := validCreds()
			// Истекают через 2 минуты — меньше запаса
			c.Expires = time.Now().Add(2 * time.Minute)
			return c, nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	if _, err := cache.Retrieve(context.Background()); err != nil {
		t.Fatalf("первый Retrieve вернул ошибку: %v", err)
	}
	if _, err := cache.Retrieve(context.Background()); err != nil {
		t.Fatalf("второй Retrieve вернул ошибку: %v", err)
	}
	if issuer.calls.Load() != 2 {
		t.Errorf("Issue вызван %d раз, ожидался 2 (refresh по margin)", issuer.calls.Load())
	}
}

// TestRetrieve_IssueError проверяет, что ошибка выпуска не кэшируется.
func TestRetrieve_IssueError(t *testing.T) {
	fail := true
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			if fail {
				return aws.Credentials{}, errors.New("STS недоступен")
			}
			return validCreds(), nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	if _, err := cache.Retrieve(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка выпуска")
	}

	// После восстановления issuer кэш снова работает
	fail = false
	creds, err := cache.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("Retrieve после восстановления вернул ошибку: %v", err)
	}
	if creds.AccessKeyID != "AKIA-TEST" {
		t.Errorf("AccessKeyID = %q, ожидался 'AKIA-TEST'", creds.AccessKeyID)
	}
}

// TestRetrieve_ConcurrentColdStart проверяет double-checked locking:
// конкурентные вызовы при пустом кэше приводят ровно к одному выпуску.
func TestRetrieve_ConcurrentColdStart(t *testing.T) {
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			// Имитация медленного сетевого вызова, чтобы горутины столкнулись
			time.Sleep(50 * time.Millisecond)
			return validCreds(), nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Retrieve(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("конкурентный Retrieve вернул ошибку: %v", err)
	}
	if issuer.calls.Load() != 1 {
		t.Errorf("Issue вызван %d раз, ожидался ровно 1", issuer.calls.Load())
	}
}

// TestRetrieve_NonExpiring проверяет, что бессрочные credentials не обновляются.
func TestRetrieve_NonExpiring(t *testing.T) {
	issuer := &mockIssuer{
		issueFunc: func(_ context.Context, _ time.Duration) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "static", SecretAccessKey: "s"}, nil
		},
	}
	cache := New(issuer, time.Hour, testLogger())

	for range 3 {
		if _, err := cache.Retrieve(context.Background()); err != nil {
			t.Fatalf("Retrieve вернул ошибку: %v", err)
		}
	}
	if issuer.calls.Load() != 1 {
		t.Errorf("Issue вызван %d раз, ожидался 1", issuer.calls.Load())
	}
}
