package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики слоя доступа к данным брокера
// ============================================================
//
// Назначение:
// - Эффективность кэша и коалесинга (сколько запросов к брокеру
//   сэкономлено)
// - Латентность и ошибки upstream API
// - Срабатывания rate limiter'а
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о деградации брокера

// ============ Метрики кэша ============

// CacheHits - попадания в кэш по типам данных
var CacheHits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of cache hits",
	},
	[]string{"type"}, // portfolio, account, orders, positions
)

// CacheMisses - промахи кэша по типам данных
var CacheMisses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of cache misses",
	},
	[]string{"type"},
)

// ============ Метрики батчера ============

// BatchFanIn - количество запросов, объединённых одним батчем
var BatchFanIn = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "brokergate",
		Subsystem: "batcher",
		Name:      "fan_in",
		Help:      "Number of pending requests coalesced into one upstream fetch",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	},
)

// BatchesExecuted - количество выполненных батчей
var BatchesExecuted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "batcher",
		Name:      "executed_total",
		Help:      "Total number of executed batches",
	},
)

// ============ Метрики upstream ============

// UpstreamFetchDuration - длительность объединённого запроса к брокеру
var UpstreamFetchDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "brokergate",
		Subsystem: "upstream",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of coalesced upstream fetches in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 7, 10},
	},
)

// UpstreamFetchErrors - ошибки запросов к брокеру
var UpstreamFetchErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "upstream",
		Name:      "fetch_errors_total",
		Help:      "Total number of failed upstream fetches",
	},
)

// ============ Метрики rate limiter ============

// RateLimited - отклонённые по лимиту запросы
var RateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected by the rate limiter",
	},
	[]string{"scope"}, // user, key, refresher
)

// ============ Метрики фонового обновления ============

// RefreshSweeps - проходы фонового обновления
var RefreshSweeps = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "refresher",
		Name:      "sweeps_total",
		Help:      "Total number of background refresh sweeps",
	},
	[]string{"result"}, // ok, partial
)

// RefreshAccountErrors - ошибки обновления отдельных аккаунтов
var RefreshAccountErrors = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "brokergate",
		Subsystem: "refresher",
		Name:      "account_errors_total",
		Help:      "Total number of per-account refresh failures",
	},
)

// ============ Вспомогательные функции ============

// recordCacheHit записывает попадание в кэш
func recordCacheHit(requestType string) {
	CacheHits.WithLabelValues(requestType).Inc()
}

// recordCacheMiss записывает промах кэша
func recordCacheMiss(requestType string) {
	CacheMisses.WithLabelValues(requestType).Inc()
}

// recordBatchExecuted записывает выполнение батча с его fan-in
func recordBatchExecuted(fanIn int) {
	BatchesExecuted.Inc()
	BatchFanIn.Observe(float64(fanIn))
}

// recordUpstreamFetch записывает длительность и исход запроса к брокеру
func recordUpstreamFetch(duration time.Duration, err error) {
	UpstreamFetchDuration.Observe(duration.Seconds())
	if err != nil {
		UpstreamFetchErrors.Inc()
	}
}

// RecordRateLimited записывает отклонение по лимиту
func RecordRateLimited(scope string) {
	RateLimited.WithLabelValues(scope).Inc()
}
