// Package metrics exposes harvest progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"scopusharvest/pkg/logger"
)

const (
	// Namespace prefixes every metric name
	Namespace = "scopusharvest"

	shutdownTimeout = 5 * time.Second
)

// Metrics holds the harvest collectors
type Metrics struct {
	RequestsTotal         prometheus.Counter
	RequestErrorsTotal    *prometheus.CounterVec
	RequestDuration       prometheus.Histogram
	PagesFetchedTotal     prometheus.Counter
	RecordsFetchedTotal   prometheus.Counter
	RecordsWrittenTotal   prometheus.Counter
	ChunksWrittenTotal    prometheus.Counter
	BudgetRemaining       prometheus.Gauge
	ServerQuotaRemaining  prometheus.Gauge
	RunsTotal             *prometheus.CounterVec
	RunDurationSeconds    prometheus.Histogram
	LastRunSuccessSeconds prometheus.Gauge
}

// New creates and registers the harvest metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Search API requests issued, including retries",
		}),
		RequestErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "request_errors_total",
			Help:      "Failed search API requests by error type",
		}, []string{"type"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of successful search API requests",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		PagesFetchedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_fetched_total",
			Help:      "Result pages fetched",
		}),
		RecordsFetchedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_fetched_total",
			Help:      "Records received from the API",
		}),
		RecordsWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_written_total",
			Help:      "Records persisted to chunk files",
		}),
		ChunksWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_written_total",
			Help:      "Chunk files written",
		}),
		BudgetRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "run_budget_remaining",
			Help:      "Requests left in the current run budget",
		}),
		ServerQuotaRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_quota_remaining",
			Help:      "Weekly allowance reported by the API",
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Finished harvest runs by stop reason",
		}, []string{"reason"}),
		RunDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of harvest runs",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),
		LastRunSuccessSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that did not abort",
		}),
	}
}

// NewRegistry returns a registry with the harvest metrics plus Go runtime
// and process collectors
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// RequestIssued counts one search API attempt, retries included
func (m *Metrics) RequestIssued() {
	m.RequestsTotal.Inc()
}

// RequestFailed counts a failed attempt under its error type label
func (m *Metrics) RequestFailed(errorType string) {
	m.RequestErrorsTotal.WithLabelValues(errorType).Inc()
}

// PageFetched records a successful page with its record count and latency
func (m *Metrics) PageFetched(records int, duration time.Duration) {
	m.PagesFetchedTotal.Inc()
	m.RecordsFetchedTotal.Add(float64(records))
	m.RequestDuration.Observe(duration.Seconds())
}

// ChunkWritten counts a chunk file flushed to disk and the records it holds
func (m *Metrics) ChunkWritten(records int) {
	m.ChunksWrittenTotal.Inc()
	m.RecordsWrittenTotal.Add(float64(records))
}

// SetBudgetRemaining reports the requests left in the run budget
func (m *Metrics) SetBudgetRemaining(n int) {
	m.BudgetRemaining.Set(float64(n))
}

// SetServerQuotaRemaining reports the weekly allowance the API last returned.
// Negative values mean unknown and leave the gauge untouched.
func (m *Metrics) SetServerQuotaRemaining(n int) {
	if n >= 0 {
		m.ServerQuotaRemaining.Set(float64(n))
	}
}

// RunFinished counts a finished run under its stop reason and observes its
// duration. Successful runs also stamp the last success time.
func (m *Metrics) RunFinished(reason string, success bool, duration time.Duration) {
	m.RunsTotal.WithLabelValues(reason).Inc()
	m.RunDurationSeconds.Observe(duration.Seconds())
	if success {
		m.LastRunSuccessSeconds.SetToCurrentTime()
	}
}

// Handler serves reg in the Prometheus text format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Listen binds the metrics address. Binding up front lets callers refuse to
// start a harvest when the port is taken.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve exposes /metrics on ln until ctx is done. ln is closed on return.
func Serve(ctx context.Context, ln net.Listener, reg *prometheus.Registry, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.LogComponentStart(log, "metrics", map[string]interface{}{"addr": ln.Addr().String()})
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.LogComponentStop(log, "metrics", "shutdown")
		return nil
	}
}
