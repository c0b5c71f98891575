package alignment

import "time"

// ShouldRecompute reports whether a strategy last recomputed at last is
// eligible again at now. A zero frequency makes every tick eligible, as does
// a zero last time (never recomputed).
func ShouldRecompute(last, now time.Time, frequency time.Duration) bool {
	if frequency <= 0 || last.IsZero() {
		return true
	}
	return now.Sub(last) >= frequency
}

// Throttle debounces recomputes to at most one per Frequency. It is not a
// queue: ticks that arrive inside the window are simply declined.
type Throttle struct {
	Frequency time.Duration
	last      time.Time
}

// Due reports whether a recompute should run at now and, if so, records now
// as the new baseline. The baseline moves whether or not the recompute that
// follows succeeds, so a failing strategy retries once per window rather
// than every tick.
func (t *Throttle) Due(now time.Time) bool {
	if !ShouldRecompute(t.last, now, t.Frequency) {
		return false
	}
	t.last = now
	return true
}

// Last returns the baseline recorded by the most recent eligible tick.
func (t *Throttle) Last() time.Time {
	return t.last
}

// Reset clears the baseline so the next tick is eligible.
func (t *Throttle) Reset() {
	t.last = time.Time{}
}
