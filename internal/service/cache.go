package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-broker/internal/domain/model"
)

// Prometheus-метрики кэша вердиктов.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ub_clean_cache_hits_total",
		Help: "Общее количество попаданий в кэш CLEAN-вердиктов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ub_clean_cache_misses_total",
		Help: "Общее количество промахов кэша CLEAN-вердиктов.",
	})
)

// VerdictCache — LRU-кэш объектов со статусом CLEAN.
// CLEAN конечен и объект неизменяем, поэтому запись не устаревает по смыслу;
// TTL ограничивает только расход памяти. Другие статусы не кэшируются.
type VerdictCache struct {
	cache *expirable.LRU[string, *model.Object]
}

// NewVerdictCache создаёт кэш. maxSize — максимум записей, ttl — время жизни.
func NewVerdictCache(maxSize int, ttl time.Duration) *VerdictCache {
	return &VerdictCache{cache: expirable.NewLRU[string, *model.Object](maxSize, nil, ttl)}
}

// Get возвращает копию CLEAN-объекта при hit.
func (c *VerdictCache) Get(key string) (*model.Object, bool) {
	obj, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return obj.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set кэширует объект, только если он CLEAN.
func (c *VerdictCache) Set(obj *model.Object) {
	if obj.Status != model.ScanClean {
		return
	}
	c.cache.Add(obj.Key, obj.Clone())
}

// Len возвращает количество записей.
func (c *VerdictCache) Len() int {
	return c.cache.Len()
}
