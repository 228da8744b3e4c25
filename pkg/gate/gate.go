// Package gate provides the exclusion gate that serializes access to a
// critical section across any number of concurrent callers.
//
// A Gate is constructed once by whoever wires the process together and is
// shared by reference. Waiters are parked goroutines and consume no CPU.
// The gate promises mutual exclusion and eventual progress only; no order
// among waiters is part of its contract.
//
// A holder that never returns from its critical section wedges the gate for
// every later caller. The gate has no timeout and no deadlock detection.
package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a binary {free, held} gate with a wait queue of blocked callers.
type Gate struct {
	sem     *semaphore.Weighted
	held    atomic.Bool
	waiting atomic.Int64
}

// New creates a free gate
func New() *Gate {
	return &Gate{
		sem: semaphore.NewWeighted(1),
	}
}

// Acquire blocks until the gate is free and takes it. The returned release
// func is the only way to give the gate back; calling it more than once is a
// no-op.
//
// If ctx is done before the gate is granted the caller leaves the wait queue
// and ctx.Err() is returned. The gate state is untouched in that case.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	g.waiting.Add(1)
	err = g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}

	g.held.Store(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.held.Store(false)
			g.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding the gate. The gate is released on every exit path
// of fn, including a panic, which is re-raised once the gate is free again.
// An error returned by fn is passed through unchanged.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Held reports whether some caller currently holds the gate
func (g *Gate) Held() bool {
	return g.held.Load()
}

// Waiting returns the number of callers currently inside Acquire.
// A caller that is granted the gate immediately is counted for an instant.
func (g *Gate) Waiting() int64 {
	return g.waiting.Load()
}
