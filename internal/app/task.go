package app

import (
	"context"
	"sync"
	"time"
)

// CycleFunc runs one cycle and returns the delay before the next one.
type CycleFunc func(ctx context.Context) time.Duration

// Task runs a CycleFunc repeatedly. The next cycle is scheduled only after the
// current one returns, so cycles never overlap.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Schedule starts fn immediately on a new goroutine.
func Schedule(ctx context.Context, fn CycleFunc) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(ctx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn CycleFunc) {
	defer close(t.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(delay)
	}
}

// Stop cancels future cycles. A cycle in flight is not interrupted; Stop does
// not wait for it.
func (t *Task) Stop() {
	t.once.Do(t.cancel)
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task has exited or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
