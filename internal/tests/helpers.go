package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

// fixture_upstream creates a test upstream server acting as the site's origin.
// Every path under /pages/ and the root exist; anything else is a 404.
func fixture_upstream(hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if requ.URL.Path != "/" && !strings.HasPrefix(requ.URL.Path, "/pages/") {
			http.NotFound(w, requ)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<p>Hello from upstream: ` + requ.URL.Path + `</p>`))
	}))
}

// fixture_manifest writes a manifest listing paths and returns its location
func fixture_manifest(tempDir string, paths ...string) (string, error) {
	content := "resources:\n"
	for _, p := range paths {
		content += "  - " + p + "\n"
	}
	path := filepath.Join(tempDir, "manifest.yaml")
	return path, os.WriteFile(path, []byte(content), 0644)
}

// fixture_config creates a test config storing generation name of origin in tempDir
func fixture_config(origin, tempDir, backend, name, manifest string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Server.FetchTimeout = "5s"
	cfg.Site.Origin = origin
	cfg.Cache.Name = name
	cfg.Cache.Backend = backend
	cfg.Cache.Folder = filepath.Join(tempDir, "cache")
	cfg.Cache.Database = filepath.Join(tempDir, "cache.db")
	cfg.Cache.Manifest = manifest
	cfg.Contact.Database = filepath.Join(tempDir, "outbox.db")
	return cfg
}

// fixture_proxy creates and initializes a proxy server with the given config and returns
// the server, test server, and an HTTP client using it as its proxy
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := proxyServer.Init(context.Background()); err != nil {
		_ = proxyServer.Shutdown(context.Background())
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}

// fixture_stop shuts a proxy created by fixture_proxy down
func fixture_stop(proxyServer *proxy.Server, proxyTestServer *httptest.Server) error {
	proxyTestServer.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return proxyServer.Shutdown(ctx)
}
