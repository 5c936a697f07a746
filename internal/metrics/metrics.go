// Package metrics provides Prometheus instrumentation for Avia.
package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "avia",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoresTotal counts scoring calls by mode, attribution and tier.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "scores_total",
			Help:      "Total claims scored by mode, attribution kind and risk level.",
		},
		[]string{"mode", "attribution", "level"},
	)

	// ScoreDuration observes scoring latency.
	ScoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "avia",
		Name:      "score_duration_seconds",
		Help:      "Time to score one claim in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// AttributionFallbacksTotal counts per-call fallbacks to heuristic attribution.
	AttributionFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "avia",
		Name:      "attribution_fallbacks_total",
		Help:      "Total scoring calls that fell back to heuristic attribution.",
	})

	// ModelLoaded is 1 when model artifacts loaded, 0 when scoring is degraded.
	ModelLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "avia",
		Name:      "model_loaded",
		Help:      "Whether model artifacts are loaded (1) or scoring is degraded (0).",
	})

	// AnalysesTotal counts persisted claim analyses by tier.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "analyses_total",
			Help:      "Total claim analyses persisted by risk level.",
		},
		[]string{"level"},
	)

	// ScoreCacheHitsTotal counts score cache hits.
	ScoreCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "avia",
		Name:      "score_cache_hits_total",
		Help:      "Total analyses served from the score cache.",
	})

	// FlagsTotal counts fired flag rules by severity.
	FlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "flags_total",
			Help:      "Total flag rules fired by severity.",
		},
		[]string{"severity"},
	)

	// DecisionsTotal counts investigator decisions by action.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "decisions_total",
			Help:      "Total investigator decisions by action.",
		},
		[]string{"action"},
	)

	// LoginsTotal counts login attempts by result.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "logins_total",
			Help:      "Total login attempts by result.",
		},
		[]string{"result"},
	)

	// DocumentsUploadedTotal counts accepted document uploads.
	DocumentsUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "avia",
		Name:      "documents_uploaded_total",
		Help:      "Total documents accepted for upload.",
	})

	// WorkerMessagesTotal counts async analysis messages by result.
	WorkerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "worker_messages_total",
			Help:      "Total async analysis messages processed by result.",
		},
		[]string{"result"},
	)

	// BusDroppedTotal counts messages dropped by full in-process subscribers.
	BusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "avia",
			Name:      "bus_dropped_total",
			Help:      "Total bus messages dropped because a subscriber buffer was full.",
		},
		[]string{"topic"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "avia", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "avia", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "avia", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoresTotal,
		ScoreDuration,
		AttributionFallbacksTotal,
		ModelLoaded,
		AnalysesTotal,
		ScoreCacheHitsTotal,
		FlagsTotal,
		DecisionsTotal,
		LoginsTotal,
		DocumentsUploadedTotal,
		WorkerMessagesTotal,
		BusDroppedTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
