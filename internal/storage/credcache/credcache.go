// Пакет credcache — кэш временных credentials для подписи download URL.
// Выпуск credentials — дорогой сетевой вызов (STS), подпись URL — локальная
// и частая операция, поэтому credentials кэшируются и переиспользуются
// до приближения к истечению.
package credcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики кэша credentials.
var (
	credentialRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_credential_refresh_total",
			Help: "Количество выпусков временных credentials",
		},
		[]string{"status"}, // success, error
	)
	credentialCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dv_credential_cache_hits_total",
			Help: "Количество выдач credentials из кэша",
		},
	)
)

// refreshMargin — запас до истечения, после которого credentials
// считаются устаревшими и выпускаются заново.
const refreshMargin = 5 * time.Minute

// Issuer — источник временных credentials.
type Issuer interface {
	// Issue выпускает credentials со сроком действия validity.
	Issue(ctx context.Context, validity time.Duration) (aws.Credentials, error)
}

// Cache — потокобезопасный кэш credentials.
// Реализует aws.CredentialsProvider: S3-клиент дергает Retrieve при каждой
// подписи, дорогой Issue выполняется только при первом обращении
// и при приближении истечения.
type Cache struct {
	issuer   Issuer
	validity time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	creds *aws.Credentials
}

// New создаёт кэш credentials.
// validity — срок действия выпускаемых credentials; должен заметно
// превышать refreshMargin, иначе кэш выродится в выпуск на каждый вызов.
func New(issuer Issuer, validity time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		issuer:   issuer,
		validity: validity,
		logger:   logger.With(slog.String("component", "credcache")),
	}
}

// Retrieve возвращает валидные credentials, из кэша или выпуская новые.
// Паттерн — double-checked locking: быстрый путь под read lock,
// после взятия write lock условие перепроверяется, чтобы конкурентные
// вызовы при пустом кэше не выпускали credentials по несколько раз.
func (c *Cache) Retrieve(ctx context.Context) (aws.Credentials, error) {
	// Проверяем кэш (read lock)
	c.mu.RLock()
	if c.creds != nil && c.fresh(c.creds) {
		creds := *c.creds
		c.mu.RUnlock()
		credentialCacheHitsTotal.Inc()
		return creds, nil
	}
	c.mu.RUnlock()

	// Выпускаем новые (write lock)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.creds != nil && c.fresh(c.creds) {
		credentialCacheHitsTotal.Inc()
		return *c.creds, nil
	}

	creds, err := c.issuer.Issue(ctx, c.validity)
	if err != nil {
		// Кэш не трогаем: следующий вызов повторит выпуск
		credentialRefreshTotal.WithLabelValues("error").Inc()
		return aws.Credentials{}, fmt.Errorf("выпуск временных credentials: %w", err)
	}

	c.creds = &creds
	credentialRefreshTotal.WithLabelValues("success").Inc()
	c.logger.Debug("Временные credentials выпущены",
		slog.Time("expires", creds.Expires),
	)
	return creds, nil
}

// fresh — credentials валидны и не ближе refreshMargin к истечению.
func (c *Cache) fresh(creds *aws.Credentials) bool {
	if !creds.CanExpire {
		return true
	}
	return time.Until(creds.Expires) > refreshMargin
}
