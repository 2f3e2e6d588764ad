package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/manifest"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://portfolio.example.com"

var errOffline = errors.New("network is unreachable")

// fakeNetwork answers requests from a fixed route table and counts calls per URL
type fakeNetwork struct {
	mu      sync.Mutex
	routes  map[string]route
	calls   map[string]int
	offline bool
}

type route struct {
	status   int
	body     string
	header   http.Header
	redirect string
	err      error
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: make(map[string]route), calls: make(map[string]int)}
}

func (n *fakeNetwork) handle(rawURL string, r route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[rawURL] = r
}

func (n *fakeNetwork) ok(rawURL, body string) {
	n.handle(rawURL, route{status: http.StatusOK, body: body})
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) count(rawURL string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[rawURL]
}

func (n *fakeNetwork) Do(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	n.calls[req.URL.String()]++
	r, ok := n.routes[req.URL.String()]
	offline := n.offline
	n.mu.Unlock()

	if offline {
		return nil, errOffline
	}
	if !ok {
		r = route{status: http.StatusNotFound, body: "not found"}
	}
	if r.err != nil {
		return nil, r.err
	}

	served := req
	if r.redirect != "" {
		u, err := url.Parse(r.redirect)
		if err != nil {
			return nil, err
		}
		served = req.Clone(req.Context())
		served.URL = u
	}

	header := http.Header{"Content-Type": []string{"text/plain"}}
	for k, v := range r.header {
		header[k] = v
	}
	return &http.Response{
		StatusCode:    r.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(r.body)),
		ContentLength: int64(len(r.body)),
		Request:       served,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
}

func (n *recordingNotifier) Show(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification)
	return nil
}

func (n *recordingNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

type recordingClients struct {
	mu      sync.Mutex
	claims  int
	windows []string
}

func (c *recordingClients) Claim(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims++
	return nil
}

func (c *recordingClients) OpenWindow(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append(c.windows, url)
	return nil
}

type countingSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingSyncer) Sync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

// faultyStorage fails Delete for the listed generations
type faultyStorage struct {
	cache.Storage
	failDelete map[string]bool
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.failDelete[name] {
		return false, errors.New("disk is read-only")
	}
	return s.Storage.Delete(ctx, name)
}

type fixture struct {
	storage  cache.Storage
	network  *fakeNetwork
	notifier *recordingNotifier
	clients  *recordingClients
	syncer   *countingSyncer
}

func newFixture() *fixture {
	return &fixture{
		storage:  cache.NewMemory(),
		network:  newFakeNetwork(),
		notifier: &recordingNotifier{},
		clients:  &recordingClients{},
		syncer:   &countingSyncer{},
	}
}

func (f *fixture) manager(t *testing.T, tag string, resources ...string) *Manager {
	t.Helper()
	return f.managerWith(t, Options{Tag: tag, Manifest: manifest.Manifest{Resources: resources}, SkipWaiting: true})
}

func (f *fixture) managerWith(t *testing.T, opts Options) *Manager {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)

	opts.Origin = origin
	opts.Storage = f.storage
	opts.Fetcher = f.network
	opts.Notifier = f.notifier
	opts.Clients = f.clients
	opts.Syncer = f.syncer
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	}

	m, err := New(opts)
	require.NoError(t, err)
	return m
}

func get(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func storeKeys(t *testing.T, storage cache.Storage, tag string) []string {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, tag)
	require.NoError(t, err)
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	return keys
}
