// Package metrics exposes reconcile counters over Prometheus.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"streamwatch/internal/monitor"
	"streamwatch/internal/task/engine"
)

const namespace = "streamwatch"

// Result label values.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

type Metrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	messages    *prometheus.CounterVec
	removed     prometheus.Counter
	live        *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Reconcile invocations by channel, phase and result.",
		}, []string{"channel", "phase", "result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Reconcile invocation latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Announcement operations by kind.",
		}, []string{"op"}),
		removed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_removed_total",
			Help:      "Subscriptions dropped because their destination no longer resolves.",
		}),
		live: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live",
			Help:      "1 while the channel is mid-session.",
		}, []string{"channel"}),
	}
}

// ObserveOutcome records one reconcile invocation.
func (m *Metrics) ObserveOutcome(out monitor.Outcome, err error, took time.Duration) {
	if m == nil {
		return
	}
	phase, result := out.Phase.String(), ResultOK
	switch {
	case err != nil:
		result = ResultError
		if errors.Is(err, monitor.ErrMalformedSnapshot) {
			phase = "malformed"
		}
	case out.Skipped != "":
		result, phase = ResultSkipped, out.Skipped
	}
	m.invocations.WithLabelValues(out.ChannelID, phase, result).Inc()
	m.duration.WithLabelValues(result).Observe(took.Seconds())

	if !out.Committed {
		return
	}
	n := out.Notify
	m.messages.WithLabelValues("created").Add(float64(n.Created))
	m.messages.WithLabelValues("edited").Add(float64(n.Edited))
	m.messages.WithLabelValues("reposted").Add(float64(n.Reposted))
	m.messages.WithLabelValues("failed").Add(float64(n.Failed))
	m.removed.Add(float64(len(out.Removed)))

	switch out.Phase {
	case monitor.SessionStarting, monitor.SessionOngoing:
		m.live.WithLabelValues(out.ChannelID).Set(1)
	case monitor.SessionEnded:
		m.live.WithLabelValues(out.ChannelID).Set(0)
	}
}

// ForgetChannel drops per-channel series of a channel that is no longer monitored.
func (m *Metrics) ForgetChannel(channelID string) {
	if m == nil {
		return
	}
	m.live.DeleteLabelValues(channelID)
	m.invocations.DeletePartialMatch(prometheus.Labels{"channel": channelID})
}

// RegisterEngine exports task engine queue state, read at scrape time.
func RegisterEngine(reg prometheus.Registerer, snapshot func() engine.Snapshot) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "queue_length",
		Help:      "Tasks waiting in the engine queue.",
	}, func() float64 { return float64(snapshot().QueueLen) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "in_flight",
		Help:      "Tasks currently running.",
	}, func() float64 { return float64(snapshot().InFlight) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "dropped_total",
		Help:      "Tasks dropped because the queue was full or stale.",
	}, func() float64 { return float64(snapshot().Dropped) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "task",
		Name:      "skipped_total",
		Help:      "Triggers skipped because the previous run was still in progress.",
	}, func() float64 { return float64(snapshot().Skipped) })
}
