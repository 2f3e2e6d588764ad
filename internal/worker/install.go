package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"

	"github.com/jmgilman/go/errors"
)

// Install creates the generation's cache store and fills it with every manifest resource.
//
// Either every resource is stored or the install fails with CodeInstallFailed.
// On failure nothing is written, a store created by this attempt is deleted,
// and the manager becomes redundant.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.transition(StateNew, StateInstalling); err != nil {
		return err
	}
	log := m.log()
	log.Infof("Installing generation with %d manifest resources", len(m.opts.Manifest.Resources))

	existed, err := m.opts.Storage.Has(ctx, m.opts.Tag)
	if err != nil {
		return m.failInstall(ctx, false, errors.Wrap(err, CodeInstallFailed, "checking cache storage"))
	}

	store, err := m.opts.Storage.Open(ctx, m.opts.Tag)
	if err != nil {
		return m.failInstall(ctx, existed, errors.Wrap(err, CodeInstallFailed, "opening cache store"))
	}
	httpCache := httpcache.New(store)

	urls, err := m.opts.Manifest.Resolve(m.opts.Origin)
	if err != nil {
		return m.failInstall(ctx, existed, errors.Wrap(err, CodeInstallFailed, "resolving manifest"))
	}

	requests, responses, err := m.fetchAll(ctx, urls)
	if err != nil {
		return m.failInstall(ctx, existed, err)
	}

	for i := range requests {
		if err := httpCache.Put(ctx, requests[i], responses[i]); err != nil {
			closeAll(responses[i:])
			err = errors.WithContext(errors.Wrap(err, CodeInstallFailed, "storing manifest resource"), "resource", urls[i].String())
			return m.failInstall(ctx, existed, err)
		}
	}

	m.mu.Lock()
	m.cache = httpCache
	m.setStateLocked(StateWaiting)
	m.mu.Unlock()

	log.Infof("Installed generation (%d resources cached)", len(requests))
	return nil
}

// fetchAll fetches every url with bounded concurrency.
// Any transport error or non-2xx status fails the whole batch.
func (m *Manager) fetchAll(ctx context.Context, urls []*url.URL) ([]*http.Request, []*http.Response, error) {
	requests := make([]*http.Request, len(urls))
	responses := make([]*http.Response, len(urls))
	errs := make([]error, len(urls))

	sem := make(chan struct{}, m.opts.InstallConcurrency)
	var wg sync.WaitGroup
	for i, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, nil, errors.Wrap(err, CodeInstallFailed, "building manifest request")
		}
		requests[i] = req

		wg.Add(1)
		go func(i int, req *http.Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			responses[i], errs[i] = m.fetchResource(req)
		}(i, req)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			closeAll(responses)
			return nil, nil, errors.WithContext(errors.Wrap(err, CodeInstallFailed, "fetching manifest resource"), "resource", urls[i].String())
		}
	}
	return requests, responses, nil
}

func (m *Manager) fetchResource(req *http.Request) (*http.Response, error) {
	resp, err := m.opts.Fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, req.URL)
	}
	return resp, nil
}

func (m *Manager) failInstall(ctx context.Context, existed bool, err error) error {
	log := m.log()
	log.Errorf("Install failed, generation will not be promoted: %v", err)

	if !existed {
		if _, delErr := m.opts.Storage.Delete(ctx, m.opts.Tag); delErr != nil {
			log.Errorf("Failed to remove partially created generation: %v", delErr)
		}
	}
	m.setState(StateRedundant)
	return err
}

func closeAll(responses []*http.Response) {
	for _, resp := range responses {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
}

// Resume adopts a generation that a previous run installed completely,
// so a restarted host can serve offline without fetching the manifest again.
// It returns false, leaving the manager in StateNew, when any manifest
// resource is missing from the stored generation.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	store, err := m.storedGeneration(ctx)
	if err != nil || store == nil {
		return false, err
	}

	urls, err := m.opts.Manifest.Resolve(m.opts.Origin)
	if err != nil {
		return false, err
	}
	stored, err := store.Keys(ctx)
	if err != nil {
		return false, err
	}
	present := make(map[string]bool, len(stored))
	for _, k := range stored {
		present[k] = true
	}
	for _, u := range urls {
		key, err := httpcache.GenerateKey(&http.Request{Method: http.MethodGet, URL: u})
		if err != nil {
			return false, err
		}
		if !present[key] {
			m.log().Infof("Stored generation lacks %s, reinstalling", u)
			return false, nil
		}
	}

	if err := m.useStore(store); err != nil {
		return false, err
	}
	m.log().Info("Resumed previously installed generation")
	return true, nil
}

// Adopt takes over a stored generation as it is, whatever manifest filled it.
// A host uses it to keep serving an older generation after the install of a
// newer one failed. It returns false when the generation is absent or empty.
func (m *Manager) Adopt(ctx context.Context) (bool, error) {
	store, err := m.storedGeneration(ctx)
	if err != nil || store == nil {
		return false, err
	}

	stored, err := store.Keys(ctx)
	if err != nil || len(stored) == 0 {
		return false, err
	}

	if err := m.useStore(store); err != nil {
		return false, err
	}
	m.log().Infof("Adopted stored generation (%d entries)", len(stored))
	return true, nil
}

// storedGeneration opens the manager's generation if storage already has it.
// It returns nil, nil when there is none.
func (m *Manager) storedGeneration(ctx context.Context) (cache.Store, error) {
	if state := m.State(); state != StateNew {
		return nil, errors.Newf(errors.CodeConflict, "generation %s is %s, expected %s", m.opts.Tag, state, StateNew)
	}

	has, err := m.opts.Storage.Has(ctx, m.opts.Tag)
	if err != nil || !has {
		return nil, err
	}
	return m.opts.Storage.Open(ctx, m.opts.Tag)
}

func (m *Manager) useStore(store cache.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateNew {
		return errors.Newf(errors.CodeConflict, "generation %s changed state during resume", m.opts.Tag)
	}
	m.cache = httpcache.New(store)
	m.setStateLocked(StateWaiting)
	return nil
}
