// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	ActionsTotal      *prometheus.CounterVec
	InstancesStarted  prometheus.Counter
	InstancesFinished *prometheus.CounterVec
	EscalationsTotal  prometheus.Counter
	SweepDuration     prometheus.Histogram
	SweepBatchSize    prometheus.Histogram
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "actions_total",
			Help:      "Workflow actions applied, by action type and result.",
		}, []string{"action", "result"}),
		InstancesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "instances_started_total",
			Help:      "Workflow instances started.",
		}),
		InstancesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "instances_finished_total",
			Help:      "Workflow instances reaching a terminal status.",
		}, []string{"status"}),
		EscalationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "approvals",
			Name:      "escalations_total",
			Help:      "Step executions escalated by the scheduler.",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approvals",
			Name:      "escalation_sweep_duration_seconds",
			Help:      "Duration of one escalation sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "approvals",
			Name:      "escalation_sweep_batch_size",
			Help:      "Overdue executions claimed per sweep.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}
