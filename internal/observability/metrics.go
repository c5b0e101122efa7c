// Package observability wires Prometheus metrics for the crawler core.
// Logging is set up in cmd/huntcore.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exported by a running Runner.
type Metrics struct {
	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	RetriesTotal     *prometheus.CounterVec
	RateLimitWaits   *prometheus.HistogramVec
	ItemsProcessed   *prometheus.CounterVec
	ItemsDropped     *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	PipelineErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all huntcore metrics against registry.
// A nil registry registers against the default Prometheus registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		DispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huntcore_dispatches_total",
				Help: "Total HTTP dispatches by outcome",
			},
			[]string{"domain", "outcome"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huntcore_dispatch_duration_seconds",
				Help:    "Dispatch round-trip latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"domain"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "huntcore_requests_in_flight",
				Help: "Number of requests currently being dispatched",
			},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huntcore_retries_total",
				Help: "Total retry attempts by domain and reason",
			},
			[]string{"domain", "reason"},
		),
		RateLimitWaits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huntcore_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the rate limiter before dispatch",
				Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"group"},
		),
		ItemsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huntcore_items_processed_total",
				Help: "Total items routed through the pipeline dispatcher",
			},
			[]string{"type"},
		),
		ItemsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huntcore_items_dropped_total",
				Help: "Total items dropped by pipeline middleware",
			},
			[]string{"type", "reason"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "huntcore_queue_depth",
				Help: "Current number of requests waiting in the frontier",
			},
		),
		PipelineErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huntcore_pipeline_errors_total",
				Help: "Total pipeline processor errors by stage",
			},
			[]string{"stage"},
		),
	}
}

// Handler returns the HTTP handler that serves metrics in Prometheus text
// exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DispatchRecorder tracks one in-flight dispatch from start to finish.
type DispatchRecorder struct {
	metrics *Metrics
	domain  string
	start   time.Time
}

// NewDispatchRecorder begins timing a dispatch for domain.
func (m *Metrics) NewDispatchRecorder(domain string) *DispatchRecorder {
	m.RequestsInFlight.Inc()
	return &DispatchRecorder{metrics: m, domain: domain, start: time.Now()}
}

// Done records the dispatch outcome ("success", "http_error", "transport_error").
func (r *DispatchRecorder) Done(outcome string) {
	r.metrics.RequestsInFlight.Dec()
	r.metrics.DispatchesTotal.WithLabelValues(r.domain, outcome).Inc()
	r.metrics.DispatchDuration.WithLabelValues(r.domain).Observe(time.Since(r.start).Seconds())
}

// RecordRetry increments the retry counter for domain with reason.
func (m *Metrics) RecordRetry(domain, reason string) {
	m.RetriesTotal.WithLabelValues(domain, reason).Inc()
}

// RecordRateLimitWait observes how long a dispatch waited on group's limiter.
func (m *Metrics) RecordRateLimitWait(group string, wait time.Duration) {
	m.RateLimitWaits.WithLabelValues(group).Observe(wait.Seconds())
}

// RecordItemProcessed increments the processed counter for an item type name.
func (m *Metrics) RecordItemProcessed(itemType string) {
	m.ItemsProcessed.WithLabelValues(itemType).Inc()
}

// RecordItemDropped increments the dropped counter for an item type and reason.
func (m *Metrics) RecordItemDropped(itemType, reason string) {
	m.ItemsDropped.WithLabelValues(itemType, reason).Inc()
}

// RecordPipelineError increments the pipeline error counter for a stage.
func (m *Metrics) RecordPipelineError(stage string) {
	m.PipelineErrors.WithLabelValues(stage).Inc()
}

// SetQueueDepth sets the current frontier depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// Server runs the metrics HTTP endpoint until ctx is cancelled.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server listening on addr, serving the registry's
// exposition at path plus a /health liveness endpoint.
func NewServer(addr, path string) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server in a background goroutine and stops it when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		_ = s.httpServer.ListenAndServe()
	}()
}
