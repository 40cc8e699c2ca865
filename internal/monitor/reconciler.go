package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamwatch/internal/transport"
	logx "streamwatch/pkg/logx"
)

// DefaultDebounceWindow is how long a channel must stay offline after a
// session end before it is evaluated again.
const DefaultDebounceWindow = 3 * time.Minute

// Skip reasons reported in Outcome.Skipped.
const (
	SkipUnknownChannel = "unknown_channel"
	SkipDebounce       = "debounce"
	SkipSettled        = "settled"
)

// ErrMalformedSnapshot is returned when the probe reports a live channel but
// cannot describe the broadcast.
var ErrMalformedSnapshot = errors.New("malformed stream snapshot")

// ErrStaleSnapshot is a malformed snapshot describing a broadcast that began
// no later than the recorded session end, i.e. the previous session.
var ErrStaleSnapshot = fmt.Errorf("%w: stream predates last session end", ErrMalformedSnapshot)

type Config struct {
	DebounceWindow time.Duration
}

// Deps are the collaborators of a Reconciler. Log and Now are optional.
type Deps struct {
	Store    Store
	Probe    StreamProbe
	Platform Platform
	Renderer Renderer
	Log      logx.Logger
	Now      Clock
}

// Outcome describes what one invocation did.
type Outcome struct {
	ChannelID   string
	DisplayName string
	Phase       LifecyclePhase
	Action      Action
	Skipped     string

	Activity        string
	ActivityChanged bool
	SessionEnd      time.Time

	Notify    NotifyReport
	Removed   []Subscription
	Committed bool
}

// Reconciler runs the lifecycle reconciliation for one channel per call.
// It holds no per-channel state; callers must not run two invocations for the
// same channel concurrently.
type Reconciler struct {
	cfg      Config
	store    Store
	probe    StreamProbe
	render   Renderer
	notifier *Notifier
	tracker  SegmentTracker
	now      Clock
	log      logx.Logger
}

func NewReconciler(cfg Config, deps Deps) *Reconciler {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		cfg:      cfg,
		store:    deps.Store,
		probe:    deps.Probe,
		render:   deps.Renderer,
		notifier: NewNotifier(deps.Platform, log.With(logx.String("comp", "notifier"))),
		tracker:  SegmentTracker{DebounceWindow: cfg.DebounceWindow},
		now:      now,
		log:      log,
	}
}

// Execute reconciles the channel once. Probe failures abort before any state
// is touched; per-destination failures are logged and do not fail the call.
func (r *Reconciler) Execute(ctx context.Context, channelID string) (Outcome, error) {
	out := Outcome{ChannelID: channelID}
	log := r.log.With(logx.String("channel", channelID))
	now := r.now()

	ch, err := r.store.Load(ctx, channelID)
	if err != nil {
		return out, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if ch == nil {
		log.Debug("channel not monitored")
		out.Skipped = SkipUnknownChannel
		return out, nil
	}
	out.DisplayName = ch.DisplayName

	if now.Sub(ch.SessionEnd) < r.cfg.DebounceWindow {
		log.Debug("inside debounce window", logx.Time("session_end", ch.SessionEnd))
		out.Skipped = SkipDebounce
		return out, nil
	}

	live, err := r.probe.Probe(ctx, channelID)
	if err != nil {
		return out, fmt.Errorf("probe channel %s: %w", channelID, err)
	}

	out.Phase, out.Action = Classify(ch.WasLive(), live)
	if out.Phase == Settled {
		out.Skipped = SkipSettled
		return out, nil
	}

	var content transport.Content
	switch out.Phase {
	case SessionStarting, SessionOngoing:
		snap, err := r.snapshot(ctx, channelID)
		if err != nil {
			return out, err
		}
		if out.Phase == SessionStarting && !snap.CreatedAt.After(ch.SessionEnd) {
			return out, fmt.Errorf("fetch snapshot %s: %w (created %s, ended %s)", channelID, ErrStaleSnapshot,
				snap.CreatedAt.Format(time.RFC3339), ch.SessionEnd.Format(time.RFC3339))
		}
		out.Activity = NormalizeActivity(snap.ActivityName)
		if out.Phase == SessionStarting {
			r.tracker.Start(ch, snap)
			out.ActivityChanged = true
		} else {
			out.ActivityChanged = r.tracker.Track(ch, snap, now)
		}
		content = r.render.Live(ch, snap, now)

	case SessionEnded:
		out.SessionEnd = r.tracker.End(ch, now)
		content = r.render.Summary(ch, r.profileImage(ctx, log, channelID))
	}

	out.Notify = r.notifier.Reconcile(ctx, ch, out.Phase, content)
	out.Removed = ch.RemoveSubscriptions(out.Notify.Unresolved)

	if err := r.store.Commit(ctx, ch); err != nil {
		return out, fmt.Errorf("commit channel %s: %w", channelID, err)
	}
	ch.MarkCommitted()
	out.Committed = true

	log.Info("reconciled",
		logx.String("phase", out.Phase.String()),
		logx.String("activity", out.Activity),
		logx.Int("created", out.Notify.Created),
		logx.Int("edited", out.Notify.Edited),
		logx.Int("reposted", out.Notify.Reposted),
		logx.Int("failed", out.Notify.Failed),
		logx.Int("removed", len(out.Removed)),
	)
	return out, nil
}

func (r *Reconciler) snapshot(ctx context.Context, channelID string) (StreamSnapshot, error) {
	snap, err := r.probe.FetchSnapshot(ctx, channelID)
	if err != nil {
		return StreamSnapshot{}, fmt.Errorf("fetch snapshot %s: %w", channelID, err)
	}
	if snap == nil {
		return StreamSnapshot{}, fmt.Errorf("fetch snapshot %s: %w: channel reported live without a stream", channelID, ErrMalformedSnapshot)
	}
	if snap.CreatedAt.IsZero() {
		return StreamSnapshot{}, fmt.Errorf("fetch snapshot %s: %w: missing start time", channelID, ErrMalformedSnapshot)
	}
	return *snap, nil
}

// profileImage is best effort: a missing avatar never blocks the summary.
func (r *Reconciler) profileImage(ctx context.Context, log logx.Logger, channelID string) string {
	src, ok := r.probe.(ProfileSource)
	if !ok {
		return ""
	}
	url, err := src.ProfileImage(ctx, channelID)
	if err != nil {
		log.Warn("profile image lookup failed", logx.Err(err))
		return ""
	}
	return url
}
