package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns the service metrics. It implements engine.Observer.
type Recorder struct {
	registry *prometheus.Registry

	interpretations     *prometheus.CounterVec
	interpretDuration   *prometheus.HistogramVec
	analyses            *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewRecorder registers every metric, plus the Go and process collectors, on
// a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		interpretations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wfscript_interpretations_total",
				Help: "Total number of interpretations by policy and outcome",
			},
			[]string{"policy", "outcome"},
		),
		interpretDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wfscript_interpretation_duration_seconds",
				Help:    "Interpretation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"policy"},
		),
		analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wfscript_analyses_total",
				Help: "Total number of static checks by result",
			},
			[]string{"result"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveInterpretation(policy, outcome string, elapsed time.Duration) {
	r.interpretations.WithLabelValues(policy, outcome).Inc()
	r.interpretDuration.WithLabelValues(policy).Observe(elapsed.Seconds())
}

// ObserveAnalysis counts one static check; result is "clean", "warnings" or
// "errors".
func (r *Recorder) ObserveAnalysis(errors, warnings int) {
	result := "clean"
	switch {
	case errors > 0:
		result = "errors"
	case warnings > 0:
		result = "warnings"
	}
	r.analyses.WithLabelValues(result).Inc()
}
