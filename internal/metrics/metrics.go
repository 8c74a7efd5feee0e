// Package metrics registers the Prometheus instrumentation for botgate and
// optionally serves it on a dedicated listener.
package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beaconsoft/botgate/pkg/config"
)

var (
	// EventsIngested counts raw interaction events accepted by the
	// collector, by event kind.
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_events_ingested_total",
			Help: "Total interaction events ingested by kind",
		},
		[]string{"kind"},
	)

	// EventsDropped counts beacon payloads rejected before any event
	// reached a buffer (oversize or malformed bodies).
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_events_dropped_total",
			Help: "Total interaction events dropped before buffering",
		},
		[]string{"kind", "reason"},
	)

	// Detections counts completed detection checks by action tag and outcome.
	Detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_detections_total",
			Help: "Total detection checks by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// DetectionsSkipped counts timed horizons skipped because another
	// detection was executing.
	DetectionsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botgate_detections_skipped_total",
			Help: "Timed detection horizons skipped due to an in-flight check",
		},
	)

	// DetectionTimeouts counts checks that failed open on the wait timeout.
	DetectionTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botgate_detection_timeouts_total",
			Help: "Detection checks that failed open waiting for a result",
		},
	)

	// DetectorErrors counts transport failures talking to the detector.
	DetectorErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botgate_detector_errors_total",
			Help: "Transport errors sending snapshots to the detector",
		},
	)

	// DetectorLatency observes round-trip time to the detector.
	DetectorLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botgate_detector_latency_seconds",
			Help:    "Detector request round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SnapshotCycles counts scheduled snapshot captures per session.
	SnapshotCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botgate_snapshot_cycles_total",
			Help: "Scheduled behavior snapshot captures",
		},
	)

	// PurchaseChecks counts purchase gate decisions.
	PurchaseChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_purchase_checks_total",
			Help: "Purchase anomaly checks by decision",
		},
		[]string{"decision"},
	)

	// SessionsActive gauges tracked sessions currently registered.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "botgate_sessions_active",
			Help: "Tracked sessions currently registered",
		},
	)

	// SinkErrors counts errors writing audit records to a sink.
	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_sink_errors_total",
			Help: "Total errors writing to an audit sink",
		},
		[]string{"sink", "error_type"},
	)

	// QueueDepth gauges the internal queue depth per sink.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "botgate_queue_depth",
			Help: "Current depth of a sink's internal queue",
		},
		[]string{"sink"},
	)

	// BatchFlushLatency observes sink batch flush duration.
	BatchFlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botgate_batch_flush_latency_seconds",
			Help:    "Latency of flushing a batch to a sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// HTTPRequests counts API requests by endpoint and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botgate_http_requests_total",
			Help: "Total HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// HTTPDuration observes API request duration.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "botgate_http_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"endpoint", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsIngested,
		EventsDropped,
		Detections,
		DetectionsSkipped,
		DetectionTimeouts,
		DetectorErrors,
		DetectorLatency,
		SnapshotCycles,
		PurchaseChecks,
		SessionsActive,
		SinkErrors,
		QueueDepth,
		BatchFlushLatency,
		HTTPRequests,
		HTTPDuration,
	)
}

// ObserveDetection records a completed detection check.
func ObserveDetection(action string, allowed, needsChallenge bool) {
	outcome := "allow"
	switch {
	case !allowed:
		outcome = "block"
	case needsChallenge:
		outcome = "challenge"
	}
	Detections.WithLabelValues(action, outcome).Inc()
}

// ObserveHTTP records one API request.
func ObserveHTTP(endpoint, method, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
	HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Server exposes /metrics on its own listener, separate from the API
// server so scrapes never contend with ingest traffic.
type Server struct {
	server *http.Server
	cfg    config.MetricsConfig
}

func NewServer(cfg config.MetricsConfig) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		cfg: cfg,
	}
}

// Start launches the listener in a goroutine. Disabled config is a no-op.
func (s *Server) Start() {
	if !s.cfg.Enabled {
		log.Printf("metrics: disabled")
		return
	}
	go func() {
		log.Printf("metrics: listening on %s", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.server.Shutdown(ctx)
}
