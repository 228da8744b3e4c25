package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_MutualExclusion(t *testing.T) {
	g := New()

	var active, maxActive, runs atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				runs.Add(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(32), runs.Load())
	assert.Equal(t, int64(1), maxActive.Load(), "more than one holder at the same time")
	assert.False(t, g.Held())
	assert.Zero(t, g.Waiting())
}

func TestAcquire_ReleaseIsIdempotent(t *testing.T) {
	g := New()

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, g.Held())

	release()
	release()
	assert.False(t, g.Held())

	// A double release must not have freed a second slot
	first, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_AbandonedWaiterLeavesGateUsable(t *testing.T) {
	g := New()

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Acquire(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return g.Waiting() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Zero(t, g.Waiting())
	assert.True(t, g.Held())

	release()

	again, err := g.Acquire(context.Background())
	require.NoError(t, err)
	again()
}

func TestDo_ReleasesOnError(t *testing.T) {
	g := New()
	boom := errors.New("boom")

	err := g.Do(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Held())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, g.Do(ctx, func(ctx context.Context) error { return nil }))
}

func TestDo_ReleasesOnPanic(t *testing.T) {
	g := New()

	func() {
		defer func() {
			r := recover()
			assert.Equal(t, "work exploded", r)
		}()
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			panic("work exploded")
		})
	}()

	assert.False(t, g.Held())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, g.Do(ctx, func(ctx context.Context) error { return nil }))
}

func TestWaiting(t *testing.T) {
	g := New()

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Acquire(context.Background())
			if assert.NoError(t, err) {
				r()
			}
		}()
	}

	require.Eventually(t, func() bool { return g.Waiting() == 3 }, time.Second, time.Millisecond)

	release()
	wg.Wait()
	assert.Zero(t, g.Waiting())
	assert.False(t, g.Held())
}
