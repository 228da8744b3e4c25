package work

import (
	"context"
	"time"
)

// DefaultDuration is how long the simulated unit of work takes
const DefaultDuration = 3 * time.Second

// Unit is a piece of work run inside the critical section
type Unit interface {
	Do(ctx context.Context) error
}

// Sleep simulates labor by parking the calling goroutine for Duration.
// In-flight work is not cancelled; ctx is accepted only to satisfy Unit.
type Sleep struct {
	Duration time.Duration
}

// NewSleep creates a Sleep unit. A negative duration is treated as zero.
func NewSleep(d time.Duration) Sleep {
	if d < 0 {
		d = 0
	}
	return Sleep{Duration: d}
}

// Do waits for the configured duration
func (s Sleep) Do(ctx context.Context) error {
	if s.Duration <= 0 {
		return nil
	}
	timer := time.NewTimer(s.Duration)
	defer timer.Stop()
	<-timer.C
	return nil
}

// Func adapts an ordinary function to Unit
type Func func(ctx context.Context) error

// Do calls f(ctx)
func (f Func) Do(ctx context.Context) error {
	return f(ctx)
}
