package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter mirrors recorded samples into Prometheus collectors.
// Attach it to a Recorder via WithExporter.
type PrometheusExporter struct {
	samplesTotal    *prometheus.CounterVec
	exceededTotal   *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer

	mu         sync.Mutex
	registered bool
}

// NewPrometheusExporter creates an exporter registering under the stagekit
// namespace. A nil registerer falls back to the default registerer.
func NewPrometheusExporter(registerer prometheus.Registerer) *PrometheusExporter {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PrometheusExporter{
		registerer: registerer,
		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagekit",
				Subsystem: "metrics",
				Name:      "samples_total",
				Help:      "Total number of recorded metric samples",
			},
			[]string{"category"},
		),
		exceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagekit",
				Subsystem: "metrics",
				Name:      "threshold_exceeded_total",
				Help:      "Total number of samples exceeding their category threshold",
			},
			[]string{"category"},
		),
		durationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stagekit",
				Subsystem: "metrics",
				Name:      "duration_seconds",
				Help:      "Recorded sample durations",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"category"},
		),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (e *PrometheusExporter) Register() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		e.samplesTotal,
		e.exceededTotal,
		e.durationSeconds,
	}
	for _, c := range collectors {
		if err := e.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	e.registered = true
	return nil
}

// Observe implements Exporter.
func (e *PrometheusExporter) Observe(s Sample) {
	e.samplesTotal.WithLabelValues(s.Category).Inc()
	if s.Exceeded {
		e.exceededTotal.WithLabelValues(s.Category).Inc()
	}
	if s.HasDuration {
		e.durationSeconds.WithLabelValues(s.Category).Observe(s.Duration.Seconds())
	}
}
