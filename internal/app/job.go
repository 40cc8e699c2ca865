package app

import (
	"context"
	"time"

	"streamwatch/internal/eventbus"
	"streamwatch/internal/monitor"
	logx "streamwatch/pkg/logx"
)

func (a *App) reconcileJob(channelID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := a.ReconcileOnce(ctx, channelID)
		return err
	}
}

// ReconcileOnce runs one reconcile pass for channelID and records its outcome.
func (a *App) ReconcileOnce(ctx context.Context, channelID string) (monitor.Outcome, error) {
	start := time.Now()
	out, err := a.rec.Execute(ctx, channelID)
	took := time.Since(start)
	a.metrics.ObserveOutcome(out, err, took)
	if err != nil {
		a.log.Warn("reconcile failed", logx.String("channel", channelID), logx.Duration("took", took), logx.Err(err))
		return out, err
	}
	if out.Skipped != "" {
		a.log.Trace("reconcile skipped", logx.String("channel", channelID), logx.String("reason", out.Skipped))
	}
	publishOutcome(a.bus, out)
	return out, nil
}

// publishOutcome turns a committed outcome into lifecycle events.
func publishOutcome(bus eventbus.Bus, out monitor.Outcome) {
	if bus == nil || !out.Committed {
		return
	}
	data := eventbus.Lifecycle{ChannelID: out.ChannelID, DisplayName: out.DisplayName, Activity: out.Activity}
	switch {
	case out.Phase == monitor.SessionStarting:
		bus.Publish(eventbus.Event{Type: eventbus.TypeStreamStarted, Data: data})
	case out.Phase == monitor.SessionOngoing && out.ActivityChanged:
		bus.Publish(eventbus.Event{Type: eventbus.TypeActivityChanged, Data: data})
	case out.Phase == monitor.SessionEnded:
		bus.Publish(eventbus.Event{Type: eventbus.TypeStreamEnded, Time: out.SessionEnd, Data: data})
	}
	for _, sub := range out.Removed {
		d := data
		d.DestinationID = sub.DestinationID
		bus.Publish(eventbus.Event{Type: eventbus.TypeSubscriptionGone, Data: d})
	}
}
