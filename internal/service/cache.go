// Пакет service — бизнес-логика DocVault.
// CacheService — LRU-кэш метаданных документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docvault/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш метаданных документов с автоматическим TTL.
// Каждый экземпляр имеет собственный in-memory кэш (per-instance, stateless архитектура).
// Ключ — "{ownerID}/{documentID}": записи разных владельцев не пересекаются.
type CacheService struct {
	cache *expirable.LRU[string, *model.DocumentRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.DocumentRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// cacheKey — составной ключ кэша.
func cacheKey(ownerID, documentID string) string {
	return ownerID + "/" + documentID
}

// Get возвращает DocumentRecord из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(ownerID, documentID string) (*model.DocumentRecord, bool) {
	val, ok := c.cache.Get(cacheKey(ownerID, documentID))
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(ownerID, documentID string, record *model.DocumentRecord) {
	c.cache.Add(cacheKey(ownerID, documentID), record)
}

// Delete удаляет запись из кэша (инвалидация при удалении/обновлении документа).
func (c *CacheService) Delete(ownerID, documentID string) {
	c.cache.Remove(cacheKey(ownerID, documentID))
}
