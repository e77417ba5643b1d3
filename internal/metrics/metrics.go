package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IncomingActions  *prometheus.CounterVec
	OutgoingMessages *prometheus.CounterVec
	ActionLatency    *prometheus.HistogramVec
	LedgerMutations  *prometheus.CounterVec
	WithdrawalEvents *prometheus.CounterVec
	QuizOutcomes     *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	ScheduledJobRuns *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IncomingActions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_incoming_actions_total",
				Help:      "Total inbound chat actions by kind.",
			}, []string{"kind"}),
			OutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_outgoing_messages_total",
				Help:      "Total outgoing chat messages by transport and type.",
			}, []string{"transport", "type"}),
			ActionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chat_action_duration_seconds",
				Help:      "Latency distribution for handling one chat action.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			LedgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_mutations_total",
				Help:      "Partner ledger mutations by operation and status.",
			}, []string{"op", "status"}),
			WithdrawalEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "withdrawal_events_total",
				Help:      "Withdrawal requests by lifecycle event.",
			}, []string{"event"}),
			QuizOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quiz_outcomes_total",
				Help:      "Completed qualification tests by result.",
			}, []string{"result"}),
			Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification deliveries by target and status.",
			}, []string{"target", "status"}),
			ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Conversation sessions held in memory.",
			}),
			ScheduledJobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduled_job_runs_total",
				Help:      "Background job runs by job and status.",
			}, []string{"job", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IncomingActions,
			metricsInstance.OutgoingMessages,
			metricsInstance.ActionLatency,
			metricsInstance.LedgerMutations,
			metricsInstance.WithdrawalEvents,
			metricsInstance.QuizOutcomes,
			metricsInstance.Notifications,
			metricsInstance.ActiveSessions,
			metricsInstance.ScheduledJobRuns,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// Status maps an error to the status label used by the counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
