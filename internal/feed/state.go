package feed

import "time"

// State is the explicit per-feed mutable record threaded through each tick.
// Keeping it a value makes tick logic testable without timers.
type State struct {
	FeedID          string
	BackoffSteps    int
	InFlight        bool
	SessionKey      string
	LastResolvedDay string
}

// Schedule is a feed's cadence policy.
type Schedule struct {
	BaseInterval    time.Duration
	MinInterval     time.Duration
	BackoffStep     time.Duration
	MaxBackoffSteps int
	JitterCeiling   time.Duration

	// GateBySession skips upstream work outside the session window and
	// sleeps ClosedSleep instead. This is a policy to avoid hammering the
	// upstream when no new data exists, distinct from backoff.
	GateBySession bool
	ClosedSleep   time.Duration

	// AlignMinute snaps the next healthy tick to the minute boundary so
	// records land once per minute bucket. Backed-off ticks fall back to the
	// interval formula.
	AlignMinute bool
}

// incrementBackoff bumps the counter after a retryable failure, clamped to
// the schedule's maximum.
func (s Schedule) incrementBackoff(steps int) int {
	if steps < s.MaxBackoffSteps {
		return steps + 1
	}
	return s.MaxBackoffSteps
}

// decayBackoff decrements the counter after a success, floored at zero.
func decayBackoff(steps int) int {
	if steps > 0 {
		return steps - 1
	}
	return 0
}

// openDelay computes the next-tick delay during the session window:
// max(min, base + steps*step), jitter added by the loop.
func (s Schedule) openDelay(steps int) time.Duration {
	d := s.BaseInterval + time.Duration(steps)*s.BackoffStep
	if d < s.MinInterval {
		d = s.MinInterval
	}
	return d
}
