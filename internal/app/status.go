package app

import (
	"context"
	"time"

	"streamwatch/internal/metrics"
	"streamwatch/internal/task/scheduler"
)

type botPinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type helixTimer interface {
	LastRoundTrip() time.Duration
}

// latencyReport is served at /latency. Durations are in milliseconds.
type latencyReport struct {
	BotAPI   float64 `json:"bot_api_ms"`
	Helix    float64 `json:"helix_ms"`
	HelixSet bool    `json:"helix_measured"`
	At       string  `json:"at"`
}

func jobsStatus(sched *scheduler.Service) metrics.StatusFunc {
	return func(context.Context) (any, error) {
		return sched.Snapshot(), nil
	}
}

// latencyStatus pings the Bot API and reports the last Helix round trip.
func latencyStatus(bot botPinger, helix helixTimer, now func() time.Time) metrics.StatusFunc {
	return func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		took, err := bot.Ping(ctx)
		if err != nil {
			return nil, err
		}
		h := helix.LastRoundTrip()
		return latencyReport{
			BotAPI:   ms(took),
			Helix:    ms(h),
			HelixSet: h > 0,
			At:       now().UTC().Format(time.RFC3339),
		}, nil
	}
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
