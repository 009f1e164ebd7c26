package net

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// EventLoop is a cooperative scheduler. At most one goroutine holds the
// loop at a time and it only gives the loop up at explicit suspension
// points: Sleep, Await, or returning from Run or a task. Code holding the
// loop can therefore mutate loop-owned state without further locking.
type EventLoop struct {
	token chan struct{}
	clock clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu    sync.Mutex
	tasks map[*Task]struct{}
	wg    conc.WaitGroup
}

// LoopOption configures an EventLoop.
type LoopOption func(*EventLoop)

// WithLoopClock replaces the wall clock used by Sleep and Await.
func WithLoopClock(clk clock.Clock) LoopOption {
	return func(l *EventLoop) {
		if clk != nil {
			l.clock = clk
		}
	}
}

// NewEventLoop creates an idle loop.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	l := &EventLoop{
		token: make(chan struct{}, 1),
		clock: clock.New(),
		tasks: make(map[*Task]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// Clock returns the loop's clock.
func (l *EventLoop) Clock() clock.Clock {
	return l.clock
}

// Enter blocks until the caller holds the loop.
func (l *EventLoop) Enter(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	select {
	case l.token <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLoopClosed
	}
}

// Exit releases the loop.
func (l *EventLoop) Exit() {
	<-l.token
}

// reenter takes the loop back after a suspension, even once the loop is
// closed, so that the caller's deferred Exit stays balanced.
func (l *EventLoop) reenter() {
	l.token <- struct{}{}
}

// Run calls fn while holding the loop.
func (l *EventLoop) Run(ctx context.Context, fn func() error) error {
	if err := l.Enter(ctx); err != nil {
		return err
	}
	defer l.Exit()
	return fn()
}

// Sleep suspends the caller, which must hold the loop, for d on the loop's
// clock. It returns ctx.Err() when ctx ends first. Either way the caller
// holds the loop again on return.
func (l *EventLoop) Sleep(ctx context.Context, d time.Duration) error {
	timer := l.clock.Timer(d)
	defer timer.Stop()

	l.Exit()
	var err error
	select {
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}
	l.reenter()
	return err
}

// Await suspends the caller, which must hold the loop, until done is
// closed. A positive timeout on the loop's clock bounds the wait and yields
// context.DeadlineExceeded.
func (l *EventLoop) Await(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := l.clock.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	l.Exit()
	var err error
	select {
	case <-done:
	case <-expired:
		err = context.DeadlineExceeded
	case <-ctx.Done():
		err = ctx.Err()
	}
	l.reenter()
	return err
}

// Task is a function scheduled with Spawn.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel cancels the task's context.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result once Done is closed. A panic is returned as
// an error.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Spawn schedules fn to run holding the loop as soon as the loop is free.
// The task stays in the loop's pending set until it returns.
func (l *EventLoop) Spawn(fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(l.ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	l.tasks[task] = struct{}{}
	l.mu.Unlock()

	l.wg.Go(func() {
		defer func() {
			l.mu.Lock()
			delete(l.tasks, task)
			l.mu.Unlock()
			cancel()
			close(task.done)
		}()
		if err := l.Enter(ctx); err != nil {
			task.err = err
			return
		}
		defer l.Exit()
		var err error
		if r := panics.Try(func() { err = fn(ctx) }); r != nil {
			err = r.AsError()
		}
		task.err = err
	})
	return task
}

// PendingTasks counts spawned tasks that have not finished.
func (l *EventLoop) PendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Close cancels every task and refuses further Enter calls. It does not
// wait; call Wait without holding the loop for that.
func (l *EventLoop) Close() {
	l.closed.Store(true)
	l.cancel()
}

// Wait blocks until every spawned task has finished.
func (l *EventLoop) Wait() {
	l.wg.Wait()
}
