// Package worker runs background work: repeating per-connection tasks and
// cron-scheduled maintenance jobs.
package worker

import (
	"context"
	"sync"
	"time"
)

// Task is a handle on a repeating function.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Repeat calls fn immediately and then every interval until ctx is cancelled
// or Stop is called. Calls never overlap.
func Repeat(ctx context.Context, interval time.Duration, fn func(context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			fn(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return t
}

// Stop cancels the task. It is safe to call more than once and from inside
// the task's own function; it does not wait for a running call to return.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
