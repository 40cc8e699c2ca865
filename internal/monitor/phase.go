package monitor

// LifecyclePhase is the classification of one observation.
type LifecyclePhase int

const (
	// Settled: not live before, not live now.
	Settled LifecyclePhase = iota
	// SessionStarting: not live before, live now.
	SessionStarting
	// SessionOngoing: live before, live now.
	SessionOngoing
	// SessionEnded: live before, not live now.
	SessionEnded
)

func (p LifecyclePhase) String() string {
	switch p {
	case Settled:
		return "settled"
	case SessionStarting:
		return "starting"
	case SessionOngoing:
		return "ongoing"
	case SessionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Action is what the reconciler does for a phase.
type Action int

const (
	ActionNone Action = iota
	ActionAnnounce
	ActionUpdate
	ActionSummarize
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAnnounce:
		return "announce"
	case ActionUpdate:
		return "update"
	case ActionSummarize:
		return "summarize"
	default:
		return "unknown"
	}
}

// Classify maps (wasLive, isLiveNow) onto a phase and its action.
func Classify(wasLive, isLiveNow bool) (LifecyclePhase, Action) {
	switch {
	case !wasLive && isLiveNow:
		return SessionStarting, ActionAnnounce
	case wasLive && isLiveNow:
		return SessionOngoing, ActionUpdate
	case wasLive && !isLiveNow:
		return SessionEnded, ActionSummarize
	default:
		return Settled, ActionNone
	}
}
