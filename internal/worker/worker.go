// Package worker implements the offline cache manager: a versioned cache
// generation populated from a manifest at install time, promoted at
// activation, and consulted cache-first for every intercepted request.
//
// The manager does not touch any global state. Cache storage, network access,
// notification display and page clients are injected through Options, and the
// lifecycle events are plain methods. Registration turns those methods into
// tracked tasks the host must await.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache/internal/manifest"

	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// DefaultSyncTag is the background sync tag that triggers the Syncer.
const DefaultSyncTag = "sync-messages"

// DefaultInstallConcurrency bounds parallel manifest fetches during install.
const DefaultInstallConcurrency = 4

// Fetcher performs network requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, id string) error
}

// Clients controls the pages of the origin.
type Clients interface {
	// Claim takes control of every already-open page.
	Claim(ctx context.Context) error
	// OpenWindow focuses a page showing url, opening one if none exists.
	OpenWindow(ctx context.Context, url string) error
}

// Syncer runs deferred work once connectivity is back.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Options configures a Manager.
type Options struct {
	// Tag names the cache generation owned by the manager.
	Tag string
	// Manifest lists the resources cached at install time.
	Manifest manifest.Manifest
	// Origin is the scope of the manager; relative paths resolve against it
	// and only responses from it are cached.
	Origin *url.URL
	// SkipWaiting makes a freshly installed generation eligible for
	// activation without waiting for the pages of the old one to close.
	SkipWaiting bool
	// SyncTag is the background sync tag handled by Syncer.
	SyncTag string
	// Notification holds the fixed parts of push notifications.
	Notification NotificationTemplate
	// InstallConcurrency bounds parallel manifest fetches.
	InstallConcurrency int

	Storage  cache.Storage
	Fetcher  Fetcher
	Notifier Notifier
	Clients  Clients
	Syncer   Syncer

	// Now is the clock used for notification timestamps.
	Now func() time.Time
}

// Manager is the offline cache manager of one cache generation.
type Manager struct {
	opts Options

	mu    sync.Mutex
	state State
	cache *httpcache.HTTPCache
}

// New validates opts and creates a manager in StateNew.
func New(opts Options) (*Manager, error) {
	if opts.Tag == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "generation tag is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() || opts.Origin.Host == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "an absolute origin URL is required")
	}
	if opts.Storage == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "fetcher is required")
	}
	if err := opts.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if opts.SyncTag == "" {
		opts.SyncTag = DefaultSyncTag
	}
	if opts.InstallConcurrency <= 0 {
		opts.InstallConcurrency = DefaultInstallConcurrency
	}
	opts.Notification = opts.Notification.withDefaults()
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	if opts.Clients == nil {
		opts.Clients = nopClients{}
	}
	if opts.Syncer == nil {
		opts.Syncer = StubSyncer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{opts: opts, state: StateNew}, nil
}

// Tag returns the name of the generation owned by the manager.
func (m *Manager) Tag() string {
	return m.opts.Tag
}

// SkipWaiting reports whether an installed generation activates right away.
func (m *Manager) SkipWaiting() bool {
	return m.opts.SkipWaiting
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		logrus.WithField("generation", m.opts.Tag).Debugf("State %s -> %s", m.state, s)
	}
	m.state = s
}

// transition moves from one state to another, failing if the manager is elsewhere.
func (m *Manager) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return errors.Newf(errors.CodeConflict, "generation %s is %s, expected %s", m.opts.Tag, m.state, from)
	}
	m.setStateLocked(to)
	return nil
}

func (m *Manager) currentCache() *httpcache.HTTPCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache
}

func (m *Manager) terminate() {
	m.setState(StateTerminating)
}

func (m *Manager) log() *logrus.Entry {
	return logrus.WithField("generation", m.opts.Tag)
}

// StubSyncer is the default Syncer: it only logs.
type StubSyncer struct{}

func (StubSyncer) Sync(context.Context) error {
	logrus.Info("Syncing messages...")
	return nil
}

type logNotifier struct{}

func (logNotifier) Show(_ context.Context, n Notification) error {
	logrus.Infof("Notification %s: %s - %s", n.ID, n.Title, n.Body)
	return nil
}

func (logNotifier) Close(_ context.Context, id string) error {
	logrus.Debugf("Notification %s closed", id)
	return nil
}

type nopClients struct{}

func (nopClients) Claim(context.Context) error { return nil }

func (nopClients) OpenWindow(_ context.Context, url string) error {
	logrus.Infof("Open window requested for %s", url)
	return nil
}
