package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "worktracker"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	transitions       *prom.CounterVec
	evaluations       *prom.CounterVec
	evalDuration      prom.Histogram
	debounced         prom.Counter
	reconcileErrors   prom.Counter
	reconcileDuration prom.Histogram
	activeUsers       prom.Gauge
	promptAnswers     *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied state transitions by source and target state",
		}, []string{"from", "to"}),
		evaluations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Engine evaluations by outcome",
		}, []string{"outcome"}),
		evalDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of a single engine evaluation",
			Buckets:   prom.DefBuckets,
		}),
		debounced: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "presence_debounced_total",
			Help:      "Presence events dropped by the debounce window",
		}),
		reconcileErrors: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_errors_total",
			Help:      "Per-user failures during reconciliation passes",
		}),
		reconcileDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of a full reconciliation pass",
			Buckets:   prom.DefBuckets,
		}),
		activeUsers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Users checked in at the last periodic tick",
		}),
		promptAnswers: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_answers_total",
			Help:      "Interactive prompt results by kind and answer",
		}, []string{"kind", "answer"}),
	}
	reg.MustRegister(pr.transitions, pr.evaluations, pr.evalDuration, pr.debounced,
		pr.reconcileErrors, pr.reconcileDuration, pr.activeUsers, pr.promptAnswers)
	return pr
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncEvaluation(outcome string) {
	if p == nil {
		return
	}
	p.evaluations.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveEvaluationDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.evalDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDebounced() {
	if p == nil {
		return
	}
	p.debounced.Inc()
}

func (p *PrometheusRecorder) IncReconcileError() {
	if p == nil {
		return
	}
	p.reconcileErrors.Inc()
}

func (p *PrometheusRecorder) ObserveReconcileDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.reconcileDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetActiveUsers(n int) {
	if p == nil {
		return
	}
	p.activeUsers.Set(float64(n))
}

func (p *PrometheusRecorder) IncPromptAnswer(kind string, confirmed bool) {
	if p == nil {
		return
	}
	answer := "declined"
	if confirmed {
		answer = "confirmed"
	}
	p.promptAnswers.WithLabelValues(kind, answer).Inc()
}

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
