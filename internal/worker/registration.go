package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// Registration tracks the active and waiting generations of an origin and
// dispatches lifecycle events to them.
//
// Each event runs in its own goroutine. The returned Task is its lifetime:
// Close waits for every outstanding task before terminating the active generation.
type Registration struct {
	mu      sync.Mutex
	active  *Manager
	waiting *Manager
	closed  bool

	// serializes promotions
	promoteMu sync.Mutex
	tasks     sync.WaitGroup
}

// NewRegistration creates a registration with no generation.
func NewRegistration() *Registration {
	return &Registration{}
}

// run starts fn as a tracked task. Handlers run to completion: cancelling
// ctx after dispatch does not stop them.
func (r *Registration) run(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return finishedTask(name, ErrClosed)
	}
	r.tasks.Add(1)
	r.mu.Unlock()

	t := newTask(name)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer r.tasks.Done()
		t.finish(fn(ctx))
	}()
	return t
}

// Register installs m. When the install fails the current generation stays
// in place. When it succeeds, m is activated right away if it skips waiting or
// nothing is active yet; otherwise it waits for ClientsReleased.
func (r *Registration) Register(ctx context.Context, m *Manager) *Task {
	return r.run(ctx, "install", func(ctx context.Context) error {
		if err := m.Install(ctx); err != nil {
			return err
		}
		return r.installed(ctx, m)
	})
}

// Restore resumes m from a generation a previous run installed completely,
// and falls back to a regular install otherwise.
func (r *Registration) Restore(ctx context.Context, m *Manager) *Task {
	return r.run(ctx, "restore", func(ctx context.Context) error {
		resumed, err := m.Resume(ctx)
		if err != nil {
			logrus.WithField("generation", m.Tag()).Warnf("Failed to resume stored generation: %v", err)
		}
		if !resumed {
			if err := m.Install(ctx); err != nil {
				return err
			}
		}
		return r.installed(ctx, m)
	})
}

// Adopt activates the stored generation of m as it is, without fetching
// anything. It fails with CodeNotFound when m's generation is absent or empty.
func (r *Registration) Adopt(ctx context.Context, m *Manager) *Task {
	return r.run(ctx, "adopt", func(ctx context.Context) error {
		adopted, err := m.Adopt(ctx)
		if err != nil {
			return err
		}
		if !adopted {
			return errors.Newf(errors.CodeNotFound, "no stored generation %s", m.Tag())
		}
		return r.installed(ctx, m)
	})
}

func (r *Registration) installed(ctx context.Context, m *Manager) error {
	r.mu.Lock()
	if r.waiting != nil && r.waiting != m {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = m
	promote := m.SkipWaiting() || r.active == nil
	r.mu.Unlock()

	if !promote {
		m.log().Info("Generation installed, waiting for open pages of the current one to close")
		return nil
	}
	return r.promote(ctx)
}

// ClientsReleased signals that no page uses the active generation anymore,
// which lets the waiting generation activate.
func (r *Registration) ClientsReleased(ctx context.Context) *Task {
	return r.run(ctx, "activate", r.promote)
}

func (r *Registration) promote(ctx context.Context) error {
	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	r.mu.Lock()
	next, prev := r.waiting, r.active
	r.mu.Unlock()
	if next == nil {
		return nil
	}

	if err := next.Activate(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.active = next
	if r.waiting == next {
		r.waiting = nil
	}
	r.mu.Unlock()

	if prev != nil && prev != next {
		prev.terminate()
	}
	return nil
}

// Active returns the manager of the current generation, or nil.
func (r *Registration) Active() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed generation waiting for activation, or nil.
func (r *Registration) Waiting() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Current returns the tag of the current generation, or "" when none is active.
func (r *Registration) Current() string {
	if m := r.Active(); m != nil {
		return m.Tag()
	}
	return ""
}

// Fetch routes req through the active generation.
// It returns ErrNoController when no generation is active.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, _, err := r.Serve(ctx, req)
	return resp, err
}

// Serve is Fetch that also reports how the active generation answered.
func (r *Registration) Serve(ctx context.Context, req *http.Request) (*http.Response, CacheStatus, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, "", ErrClosed
	}
	m := r.active
	if m == nil {
		r.mu.Unlock()
		return nil, "", ErrNoController
	}
	r.tasks.Add(1)
	r.mu.Unlock()
	defer r.tasks.Done()

	return m.Serve(ctx, req)
}

// Push dispatches a push message to the active generation.
func (r *Registration) Push(ctx context.Context, msg PushMessage) *Task {
	return r.dispatch(ctx, "push", func(ctx context.Context, m *Manager) error {
		_, err := m.Push(ctx, msg)
		return err
	})
}

// Sync dispatches a background sync event to the active generation.
func (r *Registration) Sync(ctx context.Context, tag string) *Task {
	return r.dispatch(ctx, "sync", func(ctx context.Context, m *Manager) error {
		return m.Sync(ctx, tag)
	})
}

// NotificationClick dispatches a notification click to the active generation.
func (r *Registration) NotificationClick(ctx context.Context, n Notification) *Task {
	return r.dispatch(ctx, "notificationclick", func(ctx context.Context, m *Manager) error {
		return m.NotificationClick(ctx, n)
	})
}

func (r *Registration) dispatch(ctx context.Context, name string, fn func(context.Context, *Manager) error) *Task {
	m := r.Active()
	if m == nil {
		return finishedTask(name, ErrNoController)
	}
	return r.run(ctx, name, func(ctx context.Context) error {
		return fn(ctx, m)
	})
}

// Close stops accepting events, waits for the outstanding ones and
// terminates the active generation. It returns ctx.Err() if ctx ends first.
func (r *Registration) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if m := r.Active(); m != nil {
		m.terminate()
	}
	return nil
}
