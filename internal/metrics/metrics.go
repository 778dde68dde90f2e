// Package metrics exposes Prometheus instrumentation for submissions. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portalpilot"

// Metrics holds the engine's collectors
type Metrics struct {
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	stepDuration       *prometheus.HistogramVec
	recoveriesTotal    *prometheus.CounterVec
	advisorLatency     *prometheus.HistogramVec
	selectorFallbacks  *prometheus.CounterVec
	unmappedValues     *prometheus.CounterVec
	activeSubmissions  prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Finished submission attempts by target and outcome",
		}, []string{"target", "status", "kind"}),
		submissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "Wall time of a submission attempt",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"target", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one workflow step",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"target", "action"}),
		recoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery decisions by failure kind and chosen action",
		}, []string{"target", "kind", "action", "accepted"}),
		advisorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advisor_latency_seconds",
			Help:      "Time spent waiting for the recovery advisor",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		selectorFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selector_fallbacks_total",
			Help:      "Fields located by a selector other than the first candidate",
		}, []string{"target", "page"}),
		unmappedValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmapped_dropdown_values_total",
			Help:      "Select values that matched no option and had no default",
		}, []string{"target"}),
		activeSubmissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_submissions",
			Help:      "Submissions currently in flight",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.submissionsTotal, m.submissionDuration, m.stepDuration, m.recoveriesTotal,
		m.advisorLatency, m.selectorFallbacks, m.unmappedValues, m.activeSubmissions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SubmissionStarted marks a submission in flight
func (m *Metrics) SubmissionStarted() {
	if m == nil {
		return
	}
	m.activeSubmissions.Inc()
}

// SubmissionFinished records the outcome of an attempt
func (m *Metrics) SubmissionFinished(target, status, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeSubmissions.Dec()
	m.submissionsTotal.WithLabelValues(target, status, kind).Inc()
	m.submissionDuration.WithLabelValues(target, status).Observe(d.Seconds())
}

// StepFinished records the duration of a workflow step
func (m *Metrics) StepFinished(target, action string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(target, action).Observe(d.Seconds())
}

// Recovery records an advisor decision
func (m *Metrics) Recovery(target, kind, action, source string, accepted bool, latency time.Duration) {
	if m == nil {
		return
	}
	acc := "false"
	if accepted {
		acc = "true"
	}
	m.recoveriesTotal.WithLabelValues(target, kind, action, acc).Inc()
	m.advisorLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// SelectorFallback records a field found by a later selector candidate
func (m *Metrics) SelectorFallback(target, page string) {
	if m == nil {
		return
	}
	m.selectorFallbacks.WithLabelValues(target, page).Inc()
}

// UnmappedValue records a dropdown value with no option
func (m *Metrics) UnmappedValue(target string) {
	if m == nil {
		return
	}
	m.unmappedValues.WithLabelValues(target).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /health on addr until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
