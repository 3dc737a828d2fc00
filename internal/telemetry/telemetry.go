package telemetry

import (
	"net/http"
	"time"

	"codeberg.org/mutker/healthsynth/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	registry       *prometheus.Registry
	jobs           *prometheus.CounterVec
	samplesWritten *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
}

// No-op implementation
type noopRecorder struct{}

// NewService returns a Prometheus recorder backed by its own registry, or a
// no-op recorder when telemetry is disabled.
func NewService(cfg Config) Recorder {
	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry disabled, using no-op recorder")
		return noopRecorder{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}

	s := &service{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "jobs_total",
				Help:      "Store jobs finished, by phase, sample type and status",
			},
			[]string{"phase", "type", "status"},
		),
		samplesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "samples_written_total",
				Help:      "Synthetic samples saved to the store",
			},
			[]string{"type"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "phase_duration_seconds",
				Help:      "Time from the first job of a phase to its barrier",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
	}

	s.registry.MustRegister(
		s.jobs,
		s.samplesWritten,
		s.phaseDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger.Debug().Str("namespace", cfg.Namespace).Msg("Telemetry service initialized")
	return s
}

func (s *service) JobFinished(phase, sampleType, status string, samples int) {
	s.jobs.WithLabelValues(phase, sampleType, status).Inc()
	if status == StatusOK && samples > 0 {
		s.samplesWritten.WithLabelValues(sampleType).Add(float64(samples))
	}
}

func (s *service) PhaseFinished(phase string, d time.Duration) {
	s.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (noopRecorder) JobFinished(string, string, string, int) {}

func (noopRecorder) PhaseFinished(string, time.Duration) {}

func (noopRecorder) Handler() http.Handler {
	return http.NotFoundHandler()
}
