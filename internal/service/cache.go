// cache.go — короткоживущий read-кэш листингов каталога и рекомендаций.
// Обёртка над hashicorp/golang-lru/v2/expirable.
// Любая запись, способная изменить результаты, сбрасывает кэш целиком
// (Purge): инвалидация по ключам не окупается при TTL в десятки секунд.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golibrary/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lib_cache_hits_total",
		Help: "Количество попаданий в read-кэш.",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lib_cache_misses_total",
		Help: "Количество промахов read-кэша.",
	}, []string{"cache"})
)

// CacheService — in-memory кэш каждого экземпляра модуля
// (per-instance, stateless архитектура).
type CacheService struct {
	listings        *expirable.LRU[string, []*model.Book]
	recommendations *expirable.LRU[string, []*Recommendation]
}

// NewCacheService создаёт кэши листингов и рекомендаций.
// maxSize — максимальное количество записей в каждом кэше,
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		listings:        expirable.NewLRU[string, []*model.Book](maxSize, nil, ttl),
		recommendations: expirable.NewLRU[string, []*Recommendation](maxSize, nil, ttl),
	}
}

// GetListing возвращает закэшированную страницу каталога по ключу запроса.
func (c *CacheService) GetListing(key string) ([]*model.Book, bool) {
	val, ok := c.listings.Get(key)
	if ok {
		cacheHitsTotal.WithLabelValues("listings").Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues("listings").Inc()
	return nil, false
}

// SetListing кэширует страницу каталога.
func (c *CacheService) SetListing(key string, books []*model.Book) {
	c.listings.Add(key, books)
}

// GetRecommendations возвращает закэшированный список рекомендаций.
// Ключ включает идентичность читателя и длину его истории.
func (c *CacheService) GetRecommendations(key string) ([]*Recommendation, bool) {
	val, ok := c.recommendations.Get(key)
	if ok {
		cacheHitsTotal.WithLabelValues("recommendations").Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues("recommendations").Inc()
	return nil, false
}

// SetRecommendations кэширует список рекомендаций.
func (c *CacheService) SetRecommendations(key string, recs []*Recommendation) {
	c.recommendations.Add(key, recs)
}

// Purge сбрасывает оба кэша. Вызывается после любой записи,
// меняющей каталог или состояние выдач.
func (c *CacheService) Purge() {
	c.listings.Purge()
	c.recommendations.Purge()
}
