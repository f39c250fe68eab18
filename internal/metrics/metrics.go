// Package metrics exposes the pipeline's Prometheus surface: per-stage
// queue depth/throughput/latency, catalog operation counts, journal lag,
// and alert emission results. One registry, registered once, served over
// /metrics by MetricsServer.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	StageQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entryproc_stage_queue_depth",
			Help: "Current number of operations queued for a pipeline stage",
		},
		[]string{"stage"},
	)

	StageProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entryproc_stage_processed_total",
			Help: "Total operations a pipeline stage has completed",
		},
		[]string{"stage"},
	)

	StageFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entryproc_stage_failed_total",
			Help: "Total operations a pipeline stage's handler returned an error for",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entryproc_stage_duration_seconds",
			Help:    "Time an operation spends inside a pipeline stage handler",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	JournalRecordsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entryproc_journal_records_consumed_total",
			Help: "Total journal records read from a source",
		},
		[]string{"source"},
	)

	JournalAckLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "entryproc_journal_ack_lag",
		Help: "Number of journal operations buffered in JOURNAL_ACK waiting on an earlier index",
	})

	CatalogOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entryproc_catalog_op_duration_seconds",
			Help:    "Catalog operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	CatalogOpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entryproc_catalog_op_errors_total",
			Help: "Total catalog operation failures",
		},
		[]string{"op"},
	)

	ScanPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "entryproc_scan_pass_duration_seconds",
		Help:    "Duration of a complete scan pass",
		Buckets: prometheus.DefBuckets,
	})

	ScanPassEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entryproc_scan_pass_entries_total",
		Help: "Total entries visited across all scan passes",
	})

	ScanSweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entryproc_scan_sweep_removed_total",
		Help: "Total entries soft-removed by SCAN_SWEEP passes",
	})

	AlertsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entryproc_alerts_emitted_total",
			Help: "Total alerts emitted, by result",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entryproc_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
		[]string{"name"},
	)
)

// MetricsServer serves /metrics and /healthz on its own listener,
// separate from any admin API.
type MetricsServer struct {
	server *http.Server
	logger *logrus.Logger
}

var registerOnce sync.Once

func NewMetricsServer(addr string, logger *logrus.Logger) *MetricsServer {
	registerOnce.Do(func() {
		// Metrics above are registered via promauto at package init; this
		// Once exists so a second NewMetricsServer call in tests doesn't
		// attempt to build a second handler registration.
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

func (ms *MetricsServer) Start() error {
	ms.logger.WithField("addr", ms.server.Addr).Info("starting metrics server")
	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ms.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

func (ms *MetricsServer) Stop() error {
	ms.logger.Info("stopping metrics server")
	return ms.server.Close()
}

// RecordStageDuration and the helpers below exist so callers don't reach
// into the vector metrics directly; kept thin on purpose.
func RecordStageDuration(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func RecordCatalogOp(op string, d time.Duration, err error) {
	CatalogOpDuration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		CatalogOpErrorsTotal.WithLabelValues(op).Inc()
	}
}

func RecordCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
