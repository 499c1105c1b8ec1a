// Package metrics exports evolution progress as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"neuroga/internal/evo"
)

const namespace = "neuroga"

// Metrics holds the collectors shared by every run of a process. Series are
// labeled by task name.
type Metrics struct {
	generations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	inProgress  *prometheus.GaugeVec
	generation  *prometheus.GaugeVec
	best        *prometheus.GaugeVec
	bestEver    *prometheus.GaugeVec
	mean        *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	labels := []string{"task"}
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed generations.",
		}, labels),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generations that started but failed to build or evaluate.",
		}, labels),
		inProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_in_progress",
			Help:      "Generations currently being built or evaluated.",
		}, labels),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation",
			Help:      "Number of the last completed generation.",
		}, labels),
		best: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_fitness",
			Help:      "Best score of the last completed generation.",
		}, labels),
		bestEver: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_ever_fitness",
			Help:      "Best score seen in any generation of the current run.",
		}, labels),
		mean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_fitness",
			Help:      "Mean score of the last completed generation.",
		}, labels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time to build and evaluate one generation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, labels),
	}
	for _, c := range []prometheus.Collector{m.generations, m.failures, m.inProgress, m.generation, m.best, m.bestEver, m.mean, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Listener returns an evo.Listener that records generations under task. It
// also implements evo.FailureListener.
func (m *Metrics) Listener(task string) evo.Listener {
	return &listener{metrics: m, task: task}
}

type listener struct {
	metrics *Metrics
	task    string
}

func (l *listener) OnGenerationStart(int) {
	l.metrics.inProgress.WithLabelValues(l.task).Inc()
}

func (l *listener) OnGenerationFailed(int, error) {
	m := l.metrics
	m.inProgress.WithLabelValues(l.task).Dec()
	m.failures.WithLabelValues(l.task).Inc()
}

func (l *listener) OnGenerationEnd(summary evo.GenerationSummary) {
	m := l.metrics
	m.inProgress.WithLabelValues(l.task).Dec()
	m.generations.WithLabelValues(l.task).Inc()
	m.generation.WithLabelValues(l.task).Set(float64(summary.Generation))
	m.best.WithLabelValues(l.task).Set(summary.Best)
	m.bestEver.WithLabelValues(l.task).Set(summary.BestEver)
	m.mean.WithLabelValues(l.task).Set(summary.Mean)
	m.duration.WithLabelValues(l.task).Observe(summary.Duration.Seconds())
}
