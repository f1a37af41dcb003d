package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service. It satisfies
// both the activity and orchestration metrics interfaces.
type Metrics struct {
	WorkflowsStarted   prometheus.Counter
	WorkflowsCompleted *prometheus.CounterVec
	WorkflowsAborted   prometheus.Counter
	ReplayedCallsTotal prometheus.Counter

	ActivityAttempts *prometheus.CounterVec
	ActivityRetries  *prometheus.CounterVec
	ActivityFailures *prometheus.CounterVec

	AppendConflicts prometheus.Counter
}

// InitMetrics registers all collectors with the given registerer.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txgate_workflows_started_total",
			Help: "Total number of workflow instances created.",
		}),
		WorkflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgate_workflows_completed_total",
			Help: "Total number of workflows reaching a terminal state, labelled by state.",
		}, []string{"terminal_state"}),
		WorkflowsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txgate_workflows_aborted_total",
			Help: "Total number of runs interrupted by an infrastructure failure.",
		}),
		ReplayedCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txgate_replayed_calls_total",
			Help: "Total number of activity calls satisfied from history without re-execution.",
		}),
		ActivityAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgate_activity_attempts_total",
			Help: "Total number of activity invocation attempts, labelled by activity.",
		}, []string{"activity"}),
		ActivityRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgate_activity_retries_total",
			Help: "Total number of activity retries after a transient failure.",
		}, []string{"activity"}),
		ActivityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgate_activity_failures_total",
			Help: "Total number of permanently failed activity calls, labelled by activity and error code.",
		}, []string{"activity", "code"}),
		AppendConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txgate_history_append_conflicts_total",
			Help: "Total number of optimistic-version conflicts appending history events.",
		}),
	}

	reg.MustRegister(
		m.WorkflowsStarted,
		m.WorkflowsCompleted,
		m.WorkflowsAborted,
		m.ReplayedCallsTotal,
		m.ActivityAttempts,
		m.ActivityRetries,
		m.ActivityFailures,
		m.AppendConflicts,
	)
	return m
}

// WorkflowStarted implements orchestration.Metrics.
func (m *Metrics) WorkflowStarted() { m.WorkflowsStarted.Inc() }

// WorkflowCompleted implements orchestration.Metrics.
func (m *Metrics) WorkflowCompleted(terminalState string) {
	m.WorkflowsCompleted.WithLabelValues(terminalState).Inc()
}

// WorkflowAborted implements orchestration.Metrics.
func (m *Metrics) WorkflowAborted() { m.WorkflowsAborted.Inc() }

// ReplayedCalls implements orchestration.Metrics.
func (m *Metrics) ReplayedCalls(n int) { m.ReplayedCallsTotal.Add(float64(n)) }

// ActivityAttempt implements activity.Metrics.
func (m *Metrics) ActivityAttempt(name string) { m.ActivityAttempts.WithLabelValues(name).Inc() }

// ActivityRetry implements activity.Metrics.
func (m *Metrics) ActivityRetry(name string) { m.ActivityRetries.WithLabelValues(name).Inc() }

// ActivityFailure implements activity.Metrics.
func (m *Metrics) ActivityFailure(name, code string) {
	m.ActivityFailures.WithLabelValues(name, code).Inc()
}
