// Package correlate computes temporal correlation between crash records and
// nearby host events. All functions are pure: callers pass event snapshots
// (cached plus imported) and the engine performs no I/O, so an empty result
// is always a normal outcome. Distinguishing "nothing happened" from
// "nothing loaded" is the caller's coverage check.
package correlate

import (
	"time"

	"hermescore/internal/crash"
	"hermescore/internal/events"
)

const (
	MinWindowMinutes = 1
	MaxWindowMinutes = 180

	DefaultWindowMinutes = 15
	DefaultRelatedLimit  = 200
	MaxRelatedLimit      = 2000

	// fallbackWindowMinutes is the fixed symmetric window consulted when a
	// strict pre-crash window comes up empty.
	fallbackWindowMinutes = 15
)

// ClampWindow bounds a user-supplied correlation window.
func ClampWindow(minutes int) int {
	if minutes < MinWindowMinutes {
		return MinWindowMinutes
	}
	if minutes > MaxWindowMinutes {
		return MaxWindowMinutes
	}
	return minutes
}

// ClampLimit bounds a user-supplied result cap.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRelatedLimit
	}
	if limit > MaxRelatedLimit {
		return MaxRelatedLimit
	}
	return limit
}

// Related returns events within the symmetric window around the crash,
// restricted to the crash's origin OS and capped at limit. Order is input
// order; sorting is a presentation concern.
func Related(c crash.Record, evs []events.NormalizedEvent, windowMinutes, limit int) []events.NormalizedEvent {
	window := time.Duration(ClampWindow(windowMinutes)) * time.Minute
	limit = ClampLimit(limit)
	return collectWindow(c, evs, c.Timestamp.Add(-window), c.Timestamp.Add(window), limit)
}

type Mode string

const (
	// ModeStrict means the result contains only events from the strict
	// pre-crash window (possibly none).
	ModeStrict Mode = "strict"
	// ModeFallback means the strict window was empty and the result is the
	// wider symmetric correlated set instead. Callers must not present
	// fallback data as pre-crash evidence.
	ModeFallback Mode = "fallback"
)

// PreCrashResult tags its event population so strict and fallback sets can
// never be silently mixed.
type PreCrashResult struct {
	Mode   Mode                     `json:"mode"`
	Events []events.NormalizedEvent `json:"events"`
}

// PreCrashFocus returns events in the strict asymmetric window
// [T-pre, T]. When that window holds nothing but the fixed ±15 minute
// correlated window does, it degrades to the correlated set and says so.
func PreCrashFocus(c crash.Record, evs []events.NormalizedEvent, preWindowMinutes int) PreCrashResult {
	pre := time.Duration(ClampWindow(preWindowMinutes)) * time.Minute
	strict := collectWindow(c, evs, c.Timestamp.Add(-pre), c.Timestamp, MaxRelatedLimit)
	if len(strict) > 0 {
		return PreCrashResult{Mode: ModeStrict, Events: strict}
	}

	fallback := Related(c, evs, fallbackWindowMinutes, DefaultRelatedLimit)
	if len(fallback) > 0 {
		return PreCrashResult{Mode: ModeFallback, Events: fallback}
	}
	return PreCrashResult{Mode: ModeStrict, Events: nil}
}

func collectWindow(c crash.Record, evs []events.NormalizedEvent, from, to time.Time, limit int) []events.NormalizedEvent {
	var out []events.NormalizedEvent
	for i := range evs {
		e := &evs[i]
		if e.OS != c.OS {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, *e)
		if len(out) >= limit {
			break
		}
	}
	return out
}
