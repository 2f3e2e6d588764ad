package worker

import (
	"context"
	"sync"

	"github.com/jmgilman/go/errors"
)

// Activate promotes the installed generation to current.
//
// Every other generation in storage is deleted. Deletions run independently and
// a failure only gets logged. Afterwards the manager claims the open pages.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateWaiting {
		defer m.mu.Unlock()
		return errors.Newf(errors.CodeConflict, "generation %s is %s, expected %s", m.opts.Tag, m.state, StateWaiting)
	}
	m.mu.Unlock()

	log := m.log()
	purged := m.purgeStale(ctx)
	log.Infof("Activating generation, %d stale generation(s) removed", purged)

	m.setState(StateActive)

	if err := m.opts.Clients.Claim(ctx); err != nil {
		log.Warnf("Failed to claim open pages: %v", err)
	}
	return nil
}

// purgeStale deletes every generation except the manager's own and returns how many went away
func (m *Manager) purgeStale(ctx context.Context) int {
	log := m.log()

	names, err := m.opts.Storage.Keys(ctx)
	if err != nil {
		log.Errorf("Failed to list cache generations: %v", err)
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		purged int
	)
	for _, name := range names {
		if name == m.opts.Tag {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			deleted, err := m.opts.Storage.Delete(ctx, name)
			if err != nil {
				log.WithField("stale", name).Errorf("Failed to delete stale generation: %v", err)
				return
			}
			if deleted {
				log.WithField("stale", name).Debug("Deleted stale generation")
				mu.Lock()
				purged++
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return purged
}
