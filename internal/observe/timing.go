package observe

import "time"

// Clock returns the current time. time.Now readings carry a monotonic
// component, so durations between two of them ignore wall-clock steps.
type Clock func() time.Time

// Timing records the clock readings around one timed invocation
type Timing struct {
	clock Clock

	StartedAt   time.Time
	AcquiredAt  time.Time
	CompletedAt time.Time
}

// NewTiming takes the start reading. A nil clock means time.Now.
func NewTiming(clock Clock) *Timing {
	if clock == nil {
		clock = time.Now
	}
	return &Timing{
		clock:     clock,
		StartedAt: clock(),
	}
}

// Acquired records the moment the gate was granted
func (t *Timing) Acquired() {
	t.AcquiredAt = t.clock()
}

// Complete records the end reading
func (t *Timing) Complete() {
	t.CompletedAt = t.clock()
}

// WasAcquired reports whether Acquired was called
func (t *Timing) WasAcquired() bool {
	return !t.AcquiredAt.IsZero()
}

// Elapsed returns end minus start, never negative
func (t *Timing) Elapsed() time.Duration {
	end := t.CompletedAt
	if end.IsZero() {
		end = t.clock()
	}
	return nonNegative(end.Sub(t.StartedAt))
}

// Wait returns the time spent before the gate was granted
func (t *Timing) Wait() time.Duration {
	if !t.WasAcquired() {
		return t.Elapsed()
	}
	return nonNegative(t.AcquiredAt.Sub(t.StartedAt))
}

// Work returns the time spent holding the gate
func (t *Timing) Work() time.Duration {
	if !t.WasAcquired() || t.CompletedAt.IsZero() {
		return 0
	}
	return nonNegative(t.CompletedAt.Sub(t.AcquiredAt))
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
