package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка (включая хэндлер)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Cache: попадания/промахи по способностям
	CacheEvents *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker чтения снапшотов (0 - ок, 1 - выбило)
	SnapshotBreakerState prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hypepipe_request_duration_seconds",
			Help:    "Histogram of capability call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"cap", "decision"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hypepipe_requests_total",
			Help: "Total number of processed capability calls.",
		}, []string{"agent_id", "cap"}),

		CacheEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hypepipe_cache_events_total",
			Help: "Result cache hits and misses per capability.",
		}, []string{"cap", "outcome"}), // outcome: hit, miss, bypass

		SnapshotBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hypepipe_snapshot_breaker_state",
			Help: "Circuit breaker state of the snapshot store (0=closed, 1=open).",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hypepipe_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}
