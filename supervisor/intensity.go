package supervisor

import "time"

// IntensityLimiter tracks restart timestamps in a trailing window and
// reports when a further restart would exceed the configured budget, per
// spec.md §4.2 "Intensity limiter". No teacher equivalent (the teacher's
// restart constants exist but nothing enforces them); grounded directly
// on the spec. Exported so dsupervisor's distributed restart strategies
// (spec.md §4.8 "same restart strategies as the local supervisor") can
// reuse the identical budget logic instead of a second implementation.
type IntensityLimiter struct {
	cfg    IntensityConfig
	events []time.Time
}

func newIntensityLimiter(cfg IntensityConfig) *IntensityLimiter {
	return NewIntensityLimiter(cfg)
}

// NewIntensityLimiter constructs a limiter, defaulting to DefaultIntensity
// when cfg is unset.
func NewIntensityLimiter(cfg IntensityConfig) *IntensityLimiter {
	if cfg.MaxRestarts <= 0 {
		cfg = DefaultIntensity
	}
	return &IntensityLimiter{cfg: cfg}
}

// Allow records a prospective restart at now, evicting events that fell
// outside the window, and reports whether the budget is still satisfied.
// A restart is recorded only when it actually happens, so callers must
// only invoke Allow once they've committed to restarting.
func (l *IntensityLimiter) Allow(now time.Time) bool {
	cutoff := now.Add(-l.cfg.Within)
	kept := l.events[:0]
	for _, t := range l.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.events = kept

	if len(l.events) >= l.cfg.MaxRestarts {
		return false
	}
	l.events = append(l.events, now)
	return true
}
