// Package metrics exposes prometheus instrumentation for transcription requests.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds the collectors of one registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	QueueJobs       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcribe_requests_total",
				Help: "Total number of transcription requests",
			},
			[]string{"method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transcribe_request_duration_seconds",
				Help:    "Transcription request duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"method"},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcribe_requests_in_flight",
				Help: "Number of transcription requests being processed",
			},
		),
		QueueJobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcribe_queue_jobs_total",
				Help: "Total number of queue jobs handled by workers",
			},
			[]string{"status"},
		),
	}
}

// ObserveRequest records one finished request. An empty method is reported
// as "none", e.g. when no backend could be selected.
func (m *Metrics) ObserveRequest(method string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.RequestCount.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Track increments the in-flight gauge and returns a func that decrements it.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// ObserveJob records one handled queue job.
func (m *Metrics) ObserveJob(success bool) {
	if m == nil {
		return
	}
	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	m.QueueJobs.WithLabelValues(status).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
