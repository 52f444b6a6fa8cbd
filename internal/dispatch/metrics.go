package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the job worker.
type Metrics struct {
	// Submitted jobs by kind
	JobsSubmitted *prometheus.CounterVec

	// Finished jobs by kind and terminal status
	JobsFinished *prometheus.CounterVec

	// Current queue depth
	QueueDepth prometheus.Gauge
}

// NewMetrics creates worker metrics registered on reg. Pass
// prometheus.DefaultRegisterer for the process default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "miqa_dispatch_jobs_submitted_total",
			Help: "Total jobs submitted to the worker by kind",
		}, []string{"kind"}),

		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "miqa_dispatch_jobs_finished_total",
			Help: "Total jobs finished by kind and terminal status",
		}, []string{"kind", "status"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "miqa_dispatch_queue_depth",
			Help: "Number of jobs waiting in the worker queue",
		}),
	}
}

func (m *Metrics) jobSubmitted(kind Kind) {
	if m != nil {
		m.JobsSubmitted.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) jobFinished(kind Kind, status Status) {
	if m != nil {
		m.JobsFinished.WithLabelValues(string(kind), string(status)).Inc()
	}
}

func (m *Metrics) queueDepth(depth int) {
	if m != nil {
		m.QueueDepth.Set(float64(depth))
	}
}
