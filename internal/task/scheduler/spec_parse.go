package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SpecKind tells the service how to register a schedule with the cron runner.
type SpecKind int

const (
	// SpecCron is handed to robfig/cron unchanged.
	SpecCron SpecKind = iota
	// SpecInterval becomes "@every <Every>".
	SpecInterval
)

// ErrInvalidSchedule wraps every ParseSchedule failure.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ParsedSpec is the normalized form of a channel's reconcile schedule.
//
// Accepted input:
//   - cron: "*/5 * * * *", "@hourly", "@every 55m"
//   - Go duration: "55m", "2h30m"
//   - HH:MM interval: "00:50" is 50 minutes, "02:30" two and a half hours
//
// A "cron:" prefix forces cron; "interval:" and "every:" force an interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
	// Source names the syntax that matched: "cron", "duration" or "hhmm".
	Source string
}

var intervalPrefixes = []string{"interval:", "every:"}

// ParseSchedule classifies raw as a cron expression or a fixed interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, fmt.Errorf("%w: nothing after 'cron:'", ErrInvalidSchedule)
		}
		return cronSpec(rest), nil
	}
	for _, p := range intervalPrefixes {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t\r\n") {
		return cronSpec(s), nil
	}
	return intervalSpec(s)
}

func cronSpec(expr string) ParsedSpec {
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("%w: interval required", ErrInvalidSchedule)
	}
	src := "duration"
	d, ok, err := parseHHMM(v)
	switch {
	case err != nil:
		return ParsedSpec{}, err
	case ok:
		src = "hhmm"
	default:
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf(
				"%w %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')",
				ErrInvalidSchedule, v)
		}
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// parseHHMM reports ok=false when v is not shaped like H:MM. Hours go up to
// 999; minutes must be two digits below 60.
func parseHHMM(v string) (time.Duration, bool, error) {
	hs, ms, found := strings.Cut(v, ":")
	if !found || len(hs) == 0 || len(hs) > 3 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, false, nil
	}
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if m > 59 {
		return 0, true, fmt.Errorf("%w: minutes out of range in %q", ErrInvalidSchedule, v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, true, nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
