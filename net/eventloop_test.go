package net

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRunIsExclusive(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := loop.Run(context.Background(), func() error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestEventLoopRunReturnsError(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	boom := errors.New("boom")
	assert.ErrorIs(t, loop.Run(context.Background(), func() error { return boom }), boom)
}

func TestEventLoopEnterContext(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	require.NoError(t, loop.Enter(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, loop.Enter(ctx), context.DeadlineExceeded)
	loop.Exit()
}

func TestEventLoopSleepReleasesLoop(t *testing.T) {
	clk := clock.NewMock()
	loop := NewEventLoop(WithLoopClock(clk))
	defer loop.Close()
	assert.Same(t, clk, loop.Clock())

	woke := make(chan struct{})
	go func() {
		_ = loop.Run(context.Background(), func() error {
			err := loop.Sleep(context.Background(), time.Second)
			assert.NoError(t, err)
			close(woke)
			return nil
		})
	}()

	// another turn runs while the sleeper is suspended
	require.Eventually(t, func() bool {
		ran := false
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		_ = loop.Run(ctx, func() error {
			ran = true
			return nil
		})
		clk.Add(100 * time.Millisecond)
		return ran
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		select {
		case <-woke:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestEventLoopSleepCancelled(t *testing.T) {
	loop := NewEventLoop(WithLoopClock(clock.NewMock()))
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loop.Run(context.Background(), func() error {
		return loop.Sleep(ctx, time.Hour)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventLoopAwait(t *testing.T) {
	clk := clock.NewMock()
	loop := NewEventLoop(WithLoopClock(clk))
	defer loop.Close()

	done := make(chan struct{})
	close(done)
	err := loop.Run(context.Background(), func() error {
		return loop.Await(context.Background(), done, time.Second)
	})
	assert.NoError(t, err)

	pending := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- loop.Run(context.Background(), func() error {
			return loop.Await(context.Background(), pending, time.Second)
		})
	}()
	var err2 error
	require.Eventually(t, func() bool {
		clk.Add(250 * time.Millisecond)
		select {
		case err2 = <-result:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, err2, context.DeadlineExceeded)
}

func TestEventLoopAwaitResolvedByAnotherTurn(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	ready := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- loop.Run(context.Background(), func() error {
			return loop.Await(context.Background(), ready, 0)
		})
	}()
	require.Eventually(t, func() bool {
		return loop.Run(context.Background(), func() error {
			select {
			case <-ready:
			default:
				close(ready)
			}
			return nil
		}) == nil
	}, time.Second, time.Millisecond)
	assert.NoError(t, <-result)
}

func TestEventLoopSpawn(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	release := make(chan struct{})
	task := loop.Spawn(func(ctx context.Context) error {
		<-release
		return errors.New("finished")
	})
	assert.Equal(t, 1, loop.PendingTasks())
	assert.NoError(t, task.Err())

	close(release)
	<-task.Done()
	assert.EqualError(t, task.Err(), "finished")
	assert.Equal(t, 0, loop.PendingTasks())
}

func TestEventLoopSpawnRecoversPanic(t *testing.T) {
	loop := NewEventLoop()
	defer loop.Close()

	task := loop.Spawn(func(ctx context.Context) error {
		panic("task exploded")
	})
	<-task.Done()
	require.Error(t, task.Err())
	assert.Contains(t, task.Err().Error(), "task exploded")

	// the loop is released after a panicking task
	assert.NoError(t, loop.Run(context.Background(), func() error { return nil }))
}

func TestEventLoopTaskCancel(t *testing.T) {
	loop := NewEventLoop(WithLoopClock(clock.NewMock()))
	defer loop.Close()

	task := loop.Spawn(func(ctx context.Context) error {
		return loop.Sleep(ctx, time.Hour)
	})
	require.Eventually(t, func() bool {
		task.Cancel()
		select {
		case <-task.Done():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestEventLoopClose(t *testing.T) {
	loop := NewEventLoop(WithLoopClock(clock.NewMock()))

	task := loop.Spawn(func(ctx context.Context) error {
		return loop.Sleep(ctx, time.Hour)
	})
	loop.Close()
	loop.Wait()

	<-task.Done()
	assert.Error(t, task.Err())
	assert.Equal(t, 0, loop.PendingTasks())
	assert.ErrorIs(t, loop.Run(context.Background(), func() error { return nil }), ErrLoopClosed)
}
