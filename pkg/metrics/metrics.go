// Package metrics provides Prometheus-based recording of coordination
// activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder counts coordination activity for the metrics endpoint.
type Recorder struct {
	messagesSent      *prometheus.CounterVec
	messagesDelivered prometheus.Counter
	locksAcquired     prometheus.Counter
	lockTimeouts      prometheus.Counter
	locksReclaimed    prometheus.Counter
	conflictsTotal    *prometheus.CounterVec
	phaseTransitions  *prometheus.CounterVec
	agentRunDuration  *prometheus.HistogramVec
	agentRunCost      *prometheus.CounterVec
}

// NewRecorder registers and returns the coordination metrics.
func NewRecorder() *Recorder {
	return &Recorder{
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_messages_sent_total",
				Help: "Messages sent between agents by type and priority",
			},
			[]string{"type", "priority"},
		),
		messagesDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_messages_delivered_total",
				Help: "Messages moved from outboxes to inboxes",
			},
		),
		locksAcquired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_locks_acquired_total",
				Help: "Successful resource lock acquisitions",
			},
		),
		lockTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_lock_timeouts_total",
				Help: "Lock acquisitions that timed out",
			},
		),
		locksReclaimed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swarm_locks_reclaimed_total",
				Help: "Stale locks forcibly reclaimed",
			},
		),
		conflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_conflicts_total",
				Help: "Conflict resolutions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		phaseTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_phase_transitions_total",
				Help: "Pipeline phase transitions",
			},
			[]string{"from", "to"},
		),
		agentRunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarm_agent_run_duration_seconds",
				Help:    "Duration of agent turns",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"agent_id", "signal"},
		),
		agentRunCost: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_agent_cost_usd_total",
				Help: "Accumulated agent cost in USD",
			},
			[]string{"agent_id"},
		),
	}
}

func (r *Recorder) MessageSent(msgType, priority string) {
	r.messagesSent.WithLabelValues(msgType, priority).Inc()
}

func (r *Recorder) MessagesDelivered(count int) {
	r.messagesDelivered.Add(float64(count))
}

func (r *Recorder) LockAcquired()  { r.locksAcquired.Inc() }
func (r *Recorder) LockTimeout()   { r.lockTimeouts.Inc() }
func (r *Recorder) LockReclaimed() { r.locksReclaimed.Inc() }

func (r *Recorder) ConflictResolved(strategy, outcome string) {
	r.conflictsTotal.WithLabelValues(strategy, outcome).Inc()
}

func (r *Recorder) PhaseTransition(from, to string) {
	r.phaseTransitions.WithLabelValues(from, to).Inc()
}

// AgentRun records one completed agent turn.
func (r *Recorder) AgentRun(agentID, signal string, duration time.Duration, costUSD float64) {
	r.agentRunDuration.WithLabelValues(agentID, signal).Observe(duration.Seconds())
	r.agentRunCost.WithLabelValues(agentID).Add(costUSD)
}
