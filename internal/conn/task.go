package conn

import (
	"context"
	"sync"
)

// Task is a cancellable background loop. A nil *Task behaves like one that
// has already finished.
type Task struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Go runs fn in a new goroutine with a context derived from ctx.
func Go(ctx context.Context, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
	return t
}

// Cancel asks the loop to stop. Calling it more than once, or after the loop
// returned, does nothing.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Wait blocks until the loop has returned.
func (t *Task) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

// Stop cancels and waits.
func (t *Task) Stop() {
	t.Cancel()
	t.Wait()
}

func (t *Task) Running() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}
