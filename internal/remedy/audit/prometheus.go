// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromCollector mirrors audit and metrics observations into Prometheus
type PromCollector struct {
	results      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	attempts     *prometheus.HistogramVec
	rollbacks    *prometheus.CounterVec
	auditEntries *prometheus.CounterVec
}

// NewPromCollector registers the collectors with reg. A nil reg uses the
// default registerer.
func NewPromCollector(reg prometheus.Registerer, namespace string) *PromCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromCollector{
		// Labels: action_type, status
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "results_total",
				Help:      "Total number of action results by type and status",
			},
			[]string{"action_type", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "duration_seconds",
				Help:      "Duration of action executions in seconds, including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action_type"},
		),
		attempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "actions",
				Name:      "attempts",
				Help:      "Number of attempts per action execution",
				Buckets:   []float64{1, 2, 3, 5, 10},
			},
			[]string{"action_type"},
		),
		// Labels: action_type, status (rolled_back, rollback_failed, rollback_skipped)
		rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rollback",
				Name:      "outcomes_total",
				Help:      "Total number of rollback outcomes by action type and status",
			},
			[]string{"action_type", "status"},
		),
		auditEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "entries_total",
				Help:      "Total number of audit entries by event type",
			},
			[]string{"event_type"},
		),
	}
}

func (p *PromCollector) ObserveResult(result models.ActionResult) {
	p.results.WithLabelValues(result.ActionType, string(result.Status)).Inc()
	if result.Attempts > 0 {
		p.duration.WithLabelValues(result.ActionType).Observe(result.Duration.Seconds())
		p.attempts.WithLabelValues(result.ActionType).Observe(float64(result.Attempts))
	}
}

func (p *PromCollector) ObserveRollback(actionType string, outcome models.RollbackOutcome) {
	p.rollbacks.WithLabelValues(actionType, string(outcome.Status)).Inc()
}

func (p *PromCollector) ObserveAuditEvent(eventType string) {
	p.auditEntries.WithLabelValues(eventType).Inc()
}
