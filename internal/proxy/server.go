package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/manifest"
	"github.com/iTrooz/offline-cache/internal/outbox"
	"github.com/iTrooz/offline-cache/internal/worker"

	"github.com/elazarl/goproxy"
	"github.com/jmgilman/go/errors"
	"github.com/sirupsen/logrus"
)

// Server represents the offline cache proxy server
type Server struct {
	config        *config.Config
	proxy         *goproxy.ProxyHttpServer
	origin        *url.URL
	manifest      manifest.Manifest
	client        *http.Client
	storage       cache.Storage
	outbox        *outbox.Queue
	syncer        worker.Syncer
	registration  *worker.Registration
	notifications *NotificationCenter
	clients       *ClientRegistry
	httpServer    *http.Server
	closing       atomic.Bool
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	origin, err := cfg.GetOrigin()
	if err != nil {
		return nil, fmt.Errorf("invalid site origin: %w", err)
	}

	fetchTimeout, err := cfg.GetFetchTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid fetch timeout: %w", err)
	}

	m := manifest.Default()
	if cfg.Cache.Manifest != "" {
		if m, err = manifest.Load(cfg.Cache.Manifest); err != nil {
			return nil, err
		}
	}

	storage, err := OpenStorage(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache storage: %w", err)
	}

	queue, err := OpenOutbox(cfg)
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("failed to open contact outbox: %w", err)
	}

	client := &http.Client{Timeout: fetchTimeout}

	var syncer worker.Syncer = worker.StubSyncer{}
	if cfg.Contact.AccessKey != "" {
		syncer = outbox.NewSyncer(queue, outbox.NewRelay(cfg.Contact.Endpoint, cfg.Contact.AccessKey, client))
	} else {
		logrus.Warnf("No contact access key configured, queued messages will not be relayed")
	}

	s := &Server{
		config:        cfg,
		proxy:         goproxy.NewProxyHttpServer(),
		origin:        origin,
		manifest:      m,
		client:        client,
		storage:       storage,
		outbox:        queue,
		syncer:        syncer,
		registration:  worker.NewRegistration(),
		notifications: NewNotificationCenter(),
		clients:       NewClientRegistry(),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)
	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.NonproxyHandler = s.router()
	s.proxy.OnRequest().DoFunc(s.handleProxyRequest)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			_ = s.closeStores()
			return nil, err
		}
	}

	return s, nil
}

// OpenStorage opens the cache storage backend named by cfg
func OpenStorage(cfg config.CacheConfig) (cache.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return cache.NewMemory(), nil
	case config.BackendSQLite:
		return cache.NewSQLite(cfg.Database)
	default:
		disk := cache.NewDisk(cfg.Folder)
		if err := disk.Init(); err != nil {
			return nil, err
		}
		return disk, nil
	}
}

// OpenOutbox opens the contact message queue. The memory backend keeps it in memory too.
func OpenOutbox(cfg *config.Config) (*outbox.Queue, error) {
	if cfg.Cache.Backend == config.BackendMemory || cfg.Contact.Database == "" {
		return outbox.NewMemoryQueue()
	}
	return outbox.NewQueue(cfg.Contact.Database)
}

// GetProxy returns the underlying goproxy server (exported for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Registration returns the generation registry the server dispatches to
func (s *Server) Registration() *worker.Registration {
	return s.registration
}

// Outbox returns the queue of contact messages waiting to be relayed
func (s *Server) Outbox() *outbox.Queue {
	return s.outbox
}

// Notifications returns the notifications on display
func (s *Server) Notifications() *NotificationCenter {
	return s.notifications
}

// Clients returns the pages the server has seen
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// NewManager creates the manager of the configured generation
func (s *Server) NewManager() (*worker.Manager, error) {
	return s.newManager(s.config.Cache.Name)
}

func (s *Server) newManager(tag string) (*worker.Manager, error) {
	return worker.New(worker.Options{
		Tag:                tag,
		Manifest:           s.manifest,
		Origin:             s.origin,
		SkipWaiting:        s.config.Cache.SkipWaiting,
		SyncTag:            s.config.Sync.Tag,
		InstallConcurrency: s.config.Cache.InstallConcurrency,
		Notification: worker.NotificationTemplate{
			Title:       s.config.Push.Title,
			DefaultBody: s.config.Push.DefaultBody,
			Icon:        s.config.Push.Icon,
			Badge:       s.config.Push.Badge,
			Vibrate:     s.config.Push.Vibrate,
			OpenURL:     s.config.Push.OpenURL,
		},
		Storage:  s.storage,
		Fetcher:  worker.FetcherFunc(s.fetchUpstream),
		Notifier: s.notifications,
		Clients:  s.clients,
		Syncer:   s.syncer,
	})
}

// Init installs (or restores) the configured generation and waits until it is
// in place. When the install fails, a generation left in storage by a previous
// run keeps serving and the install is retried on the next start. The error is
// returned only when there is nothing to serve.
func (s *Server) Init(ctx context.Context) error {
	m, err := s.NewManager()
	if err != nil {
		return err
	}

	logrus.Infof("Installing cache generation %s for %s (%d resources)", m.Tag(), s.origin, len(s.manifest.Resources))
	installErr := s.registration.Restore(ctx, m).Wait(ctx)
	if installErr == nil {
		logrus.Infof("Cache generation %s is %s", m.Tag(), m.State())
		return nil
	}
	installErr = fmt.Errorf("failed to install cache generation %s: %w", m.Tag(), installErr)

	prev, err := s.adoptPrevious(ctx, m.Tag())
	if err != nil {
		logrus.Errorf("Failed to look for a previous cache generation: %v", err)
	}
	if prev == "" {
		return installErr
	}
	logrus.Errorf("%v, still serving %s", installErr, prev)
	return nil
}

// adoptPrevious activates the last stored generation (in storage order) other than skip,
// and returns its tag, or "" when there is none.
func (s *Server) adoptPrevious(ctx context.Context, skip string) (string, error) {
	names, err := s.storage.Keys(ctx)
	if err != nil {
		return "", err
	}

	for i := len(names) - 1; i >= 0; i-- {
		if names[i] == skip {
			continue
		}
		m, err := s.newManager(names[i])
		if err != nil {
			return "", err
		}
		if err := s.registration.Adopt(ctx, m).Wait(ctx); err != nil {
			logrus.WithField("generation", names[i]).Warnf("Failed to adopt stored generation: %v", err)
			continue
		}
		return names[i], nil
	}
	return "", nil
}

// Start installs the configured generation and starts the proxy server.
// It returns nil once Shutdown was called, even when that interrupted Init.
func (s *Server) Start() error {
	if err := s.Init(context.Background()); err != nil {
		if s.closing.Load() {
			return nil
		}
		return err
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Site origin: %s", s.origin)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	logrus.Infof("HTTPS interception: %t", s.config.Server.HTTPS.Enabled)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, waits for outstanding events and
// closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.Errorf("Failed to shut down HTTP server: %v", err)
	}
	if err := s.registration.Close(ctx); err != nil {
		return err
	}
	return s.closeStores()
}

func (s *Server) closeStores() error {
	var firstErr error
	if err := s.outbox.Close(); err != nil {
		firstErr = err
	}
	if err := s.storage.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// fetchUpstream sends an intercepted request to the network
func (s *Server) fetchUpstream(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.RequestURI = ""
	return s.client.Do(out)
}

func (s *Server) handleProxyRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if !s.inScope(requ) {
		logrus.Debugf("Passing through %s %s", requ.Method, getTargetURL(requ))
		return requ, nil
	}
	return requ, s.serve(requ)
}

// serve answers a request to the site through the active generation
func (s *Server) serve(requ *http.Request) *http.Response {
	targetURL := getTargetURL(requ)
	if isNavigation(requ) {
		s.clients.Seen(targetURL)
	}

	resp, status, err := s.registration.Serve(requ.Context(), requ)
	if err != nil {
		code := http.StatusBadGateway
		if errors.GetCode(err) == errors.CodeUnavailable {
			code = http.StatusServiceUnavailable
		}
		logrus.Errorf("Failed to fetch %s: %v", targetURL, err)
		return goproxy.NewResponse(requ, goproxy.ContentTypeText, code, fmt.Sprintf("Failed to fetch %s: %v\n", targetURL, err))
	}

	if status != worker.CacheBypass {
		resp.Header.Set("X-Cache", string(status))
	}
	logrus.Infof("%s %s -> %d (%s)", requ.Method, targetURL, resp.StatusCode, status)
	return resp
}
