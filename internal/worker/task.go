package worker

import "context"

// Task is the lifetime handle of one dispatched lifecycle event.
// The host must wait for it before tearing the worker down.
type Task struct {
	name string
	done chan struct{}
	err  error
}

func newTask(name string) *Task {
	return &Task{name: name, done: make(chan struct{})}
}

func finishedTask(name string, err error) *Task {
	t := newTask(name)
	t.finish(err)
	return t
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Name of the event the task handles.
func (t *Task) Name() string {
	return t.name
}

// Done is closed once the event's work has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the outcome, or nil while the task is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
// Giving up on ctx does not stop the task.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
