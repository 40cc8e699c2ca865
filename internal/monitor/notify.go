package monitor

import (
	"context"
	"errors"

	"streamwatch/internal/transport"
	logx "streamwatch/pkg/logx"
)

// NotifyReport summarizes one fan-out pass.
type NotifyReport struct {
	Created  int
	Edited   int
	Reposted int
	Failed   int

	// Unresolved holds subscriptions whose destination is gone; the caller removes them.
	Unresolved []SubscriptionKey
}

// Notifier brings every subscription's announcement in line with the current phase.
// Calls are made one subscription at a time, in order.
type Notifier struct {
	platform Platform
	log      logx.Logger
}

func NewNotifier(platform Platform, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{platform: platform, log: log}
}

// Reconcile posts or updates content for each subscription of ch, mutating
// LastMessageID in place. A failure on one subscription never stops the others.
func (n *Notifier) Reconcile(ctx context.Context, ch *MonitoredChannel, phase LifecyclePhase, content transport.Content) NotifyReport {
	var rep NotifyReport
	for i := range ch.Subscriptions {
		sub := &ch.Subscriptions[i]
		log := n.log.With(logx.Int64("destination", sub.DestinationID), logx.Int("thread", sub.ThreadID))

		dest, err := n.platform.ResolveDestination(ctx, sub.DestinationID, sub.ThreadID)
		if err != nil {
			if errors.Is(err, transport.ErrDestinationUnresolved) {
				log.Info("destination no longer resolves; dropping subscription", logx.Err(err))
				rep.Unresolved = append(rep.Unresolved, sub.Key())
				continue
			}
			log.Warn("resolve destination failed", logx.Err(err))
			rep.Failed++
			continue
		}

		// A session start always announces afresh.
		if phase == SessionStarting || sub.LastMessageID == 0 {
			id, err := n.platform.CreateMessage(ctx, dest, content)
			if err != nil {
				n.fail(log.With(logx.String("phase", phase.String())), "create announcement failed", sub, err, &rep)
				continue
			}
			sub.LastMessageID = id
			rep.Created++
		} else if !n.upsert(ctx, log, dest, sub, content, &rep) {
			continue
		}

		if phase == SessionEnded {
			sub.LastMessageID = 0
		}
	}
	return rep
}

// upsert edits the recorded message, reposting once if it has disappeared.
func (n *Notifier) upsert(ctx context.Context, log logx.Logger, dest transport.Destination, sub *Subscription, content transport.Content, rep *NotifyReport) bool {
	_, err := n.platform.FetchMessage(ctx, dest, sub.LastMessageID)
	if err == nil {
		err = n.platform.EditMessage(ctx, dest, sub.LastMessageID, content)
		if err == nil {
			rep.Edited++
			return true
		}
	}
	if !errors.Is(err, transport.ErrMessageNotFound) {
		n.fail(log.With(logx.Int64("message", sub.LastMessageID)), "update announcement failed", sub, err, rep)
		return false
	}

	id, err := n.platform.CreateMessage(ctx, dest, content)
	if err != nil {
		n.fail(log.With(logx.Int64("message", sub.LastMessageID)), "repost announcement failed", sub, err, rep)
		return false
	}
	log.Info("announcement missing; reposted", logx.Int64("old_message", sub.LastMessageID), logx.Int64("message", id))
	sub.LastMessageID = id
	rep.Reposted++
	return true
}

// fail records a platform error. A destination that vanished after it was
// resolved is queued for removal like one that failed to resolve.
func (n *Notifier) fail(log logx.Logger, msg string, sub *Subscription, err error, rep *NotifyReport) {
	if errors.Is(err, transport.ErrDestinationUnresolved) {
		log.Info("destination no longer resolves; dropping subscription", logx.Err(err))
		rep.Unresolved = append(rep.Unresolved, sub.Key())
		return
	}
	log.Warn(msg, logx.Err(err))
	rep.Failed++
}
