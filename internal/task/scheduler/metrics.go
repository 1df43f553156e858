package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arkbot/internal/storage"
)

// Metrics exports dispatch counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	maintenance *prometheus.CounterVec
	queueLen    *prometheus.GaugeVec
	faults      prometheus.Counter
}

// NewMetrics registers the scheduler collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arkbot",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Dispatched jobs by feature and outcome.",
		}, []string{"feature", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arkbot",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Job execution time.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"feature"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arkbot",
			Subsystem: "scheduler",
			Name:      "maintenance_enqueued_total",
			Help:      "Maintenance jobs enqueued by reason.",
		}, []string{"reason"}),
		queueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arkbot",
			Subsystem: "scheduler",
			Name:      "queue_length",
			Help:      "Entries per queue.",
		}, []string{"queue"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arkbot",
			Subsystem: "scheduler",
			Name:      "loop_faults_total",
			Help:      "Panics recovered in the dispatch loop.",
		}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.maintenance, m.queueLen, m.faults} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRun(feature, status string, d time.Duration) {
	if m == nil {
		return
	}
	if feature == "" {
		feature = "none"
	}
	m.runs.WithLabelValues(feature, status).Inc()
	if status != storage.StatusSkipped {
		m.duration.WithLabelValues(feature).Observe(d.Seconds())
	}
}

func (m *Metrics) observeMaintenance(reason string) {
	if m == nil {
		return
	}
	m.maintenance.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeQueues(waiting, active int) {
	if m == nil {
		return
	}
	m.queueLen.WithLabelValues("waiting").Set(float64(waiting))
	m.queueLen.WithLabelValues("active").Set(float64(active))
}

func (m *Metrics) observeFault() {
	if m == nil {
		return
	}
	m.faults.Inc()
}
