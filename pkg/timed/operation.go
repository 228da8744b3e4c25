// Package timed runs a work unit inside the exclusion gate and reports how
// long the caller waited for it, gate wait included.
package timed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/workgate/internal/observe"
	"github.com/psantana5/workgate/pkg/gate"
	"github.com/psantana5/workgate/pkg/models"
	"github.com/psantana5/workgate/pkg/tracing"
	"github.com/psantana5/workgate/pkg/work"
	"go.opentelemetry.io/otel/attribute"
)

// ErrWorkFailed wraps any error returned by the work unit
var ErrWorkFailed = errors.New("work unit failed")

// Outcome labels a finished invocation
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Measurement is what an Observer sees for every finished invocation
type Measurement struct {
	Elapsed time.Duration
	Wait    time.Duration
	Work    time.Duration
	Outcome Outcome
}

// Observer is notified after the gate has been released
type Observer interface {
	ObserveRun(m Measurement)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(m Measurement)

func (f ObserverFunc) ObserveRun(m Measurement) {
	f(m)
}

// Operation is the timed exclusive operation
type Operation struct {
	gate      *gate.Gate
	unit      work.Unit
	clock     observe.Clock
	observers []Observer
}

// Option configures an Operation
type Option func(*Operation)

// WithClock replaces time.Now. Tests use it to inject readings.
func WithClock(c observe.Clock) Option {
	return func(o *Operation) {
		o.clock = c
	}
}

// WithObserver registers an observer
func WithObserver(obs Observer) Option {
	return func(o *Operation) {
		o.observers = append(o.observers, obs)
	}
}

// New creates an Operation around a shared gate
func New(g *gate.Gate, unit work.Unit, opts ...Option) *Operation {
	o := &Operation{
		gate:  g,
		unit:  unit,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Gate returns the gate the operation contends for
func (o *Operation) Gate() *gate.Gate {
	return o.gate
}

// Run reads the clock, takes the gate, runs the unit, releases the gate and
// reads the clock again. The result is the difference in seconds.
//
// A unit error is returned wrapped in ErrWorkFailed after the gate has been
// released, together with the elapsed time up to the failure. If ctx ends
// while waiting for the gate the caller gives up its place and ctx.Err() is
// returned wrapped. A panic in the unit propagates once the gate is free.
func (o *Operation) Run(ctx context.Context) (models.Result, error) {
	timing := observe.NewTiming(o.clock)

	err := o.gate.Do(ctx, func(ctx context.Context) error {
		timing.Acquired()
		tracing.AddEvent(ctx, "gate.acquired",
			attribute.Float64("wait_seconds", timing.Wait().Seconds()))
		return o.unit.Do(ctx)
	})

	timing.Complete()

	m := Measurement{
		Elapsed: timing.Elapsed(),
		Wait:    timing.Wait(),
		Work:    timing.Work(),
		Outcome: OutcomeOK,
	}
	result := models.Result{Elapsed: m.Elapsed.Seconds()}

	switch {
	case err == nil:
		tracing.AddEvent(ctx, "gate.released",
			attribute.Float64("elapsed_seconds", result.Elapsed))
	case !timing.WasAcquired():
		m.Outcome = OutcomeCancelled
		err = fmt.Errorf("waiting for gate: %w", err)
	default:
		m.Outcome = OutcomeFailed
		err = fmt.Errorf("%w: %w", ErrWorkFailed, err)
		tracing.SetError(ctx, err)
	}

	for _, obs := range o.observers {
		obs.ObserveRun(m)
	}

	return result, err
}
