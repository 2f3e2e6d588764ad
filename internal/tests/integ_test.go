package tests

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/iTrooz/offline-cache/internal/proxy"
)

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, string(body)
}

func TestProxyIntegration(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendDisk, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			var hits atomic.Int64
			upstream := fixture_upstream(&hits)
			defer upstream.Close()

			tempDir := t.TempDir()
			manifestPath, err := fixture_manifest(tempDir, "/", "/pages/index.html")
			if err != nil {
				t.Fatalf("Failed to write manifest: %v", err)
			}

			cfg := fixture_config(upstream.URL, tempDir, backend, "site-v1", manifestPath)
			proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
			if err != nil {
				t.Fatalf("Failed to create proxy server: %v", err)
			}
			defer func() { _ = fixture_stop(proxyServer, proxyTestServer) }()

			if hits.Load() != 2 {
				t.Errorf("Expected 2 upstream requests during install, got %d", hits.Load())
			}

			t.Run("precached request - cache hit", func(t *testing.T) {
				resp, body := get(t, client, upstream.URL+"/pages/index.html")
				if resp.StatusCode != http.StatusOK {
					t.Errorf("Expected status 200, got %d", resp.StatusCode)
				}
				if resp.Header.Get("X-Cache") != "HIT" {
					t.Errorf("Expected X-Cache: HIT, got %s", resp.Header.Get("X-Cache"))
				}
				if !strings.Contains(body, "Hello from upstream: /pages/index.html") {
					t.Errorf("Unexpected response body: %s", body)
				}
			})

			t.Run("first request - cache miss", func(t *testing.T) {
				resp, _ := get(t, client, upstream.URL+"/pages/about.html")
				if resp.Header.Get("X-Cache") != "MISS" {
					t.Errorf("Expected X-Cache: MISS, got %s", resp.Header.Get("X-Cache"))
				}
			})

			t.Run("second request - cache hit", func(t *testing.T) {
				before := hits.Load()
				resp, body := get(t, client, upstream.URL+"/pages/about.html")
				if resp.Header.Get("X-Cache") != "HIT" {
					t.Errorf("Expected X-Cache: HIT, got %s", resp.Header.Get("X-Cache"))
				}
				if !strings.Contains(body, "/pages/about.html") {
					t.Errorf("Unexpected response body: %s", body)
				}
				if hits.Load() != before {
					t.Errorf("Cache hit should not reach upstream")
				}
			})

			t.Run("not found - never cached", func(t *testing.T) {
				for i := 0; i < 2; i++ {
					resp, _ := get(t, client, upstream.URL+"/missing")
					if resp.StatusCode != http.StatusNotFound {
						t.Errorf("Expected status 404, got %d", resp.StatusCode)
					}
					if resp.Header.Get("X-Cache") != "" {
						t.Errorf("Expected no X-Cache header, got %s", resp.Header.Get("X-Cache"))
					}
				}
			})
		})
	}
}

func TestDiskCacheLayout(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	tempDir := t.TempDir()
	manifestPath, err := fixture_manifest(tempDir, "/pages/test")
	if err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	cfg := fixture_config(upstream.URL, tempDir, config.BackendDisk, "site-v1", manifestPath)
	proxyServer, proxyTestServer, _, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer func() { _ = fixture_stop(proxyServer, proxyTestServer) }()

	host := strings.TrimPrefix(upstream.URL, "http://")
	expectedCachePath := filepath.Join(cfg.Cache.Folder, "site-v1", host, "pages", "test", "GET.bin")
	if _, err := os.Stat(expectedCachePath); err != nil {
		t.Errorf("Cache file should exist at %s", expectedCachePath)
	}
}

func TestOfflineAfterRestart(t *testing.T) {
	for _, backend := range []string{config.BackendDisk, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			upstream := fixture_upstream(nil)
			tempDir := t.TempDir()
			manifestPath, err := fixture_manifest(tempDir, "/", "/pages/index.html")
			if err != nil {
				t.Fatalf("Failed to write manifest: %v", err)
			}
			cfg := fixture_config(upstream.URL, tempDir, backend, "site-v1", manifestPath)

			proxyServer, proxyTestServer, _, err := fixture_proxy(cfg)
			if err != nil {
				t.Fatalf("Failed to create proxy server: %v", err)
			}
			if err := fixture_stop(proxyServer, proxyTestServer); err != nil {
				t.Fatalf("Failed to stop proxy server: %v", err)
			}

			// The origin goes away; the stored generation is restored without it
			upstream.Close()

			proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
			if err != nil {
				t.Fatalf("Failed to restart proxy server offline: %v", err)
			}
			defer func() { _ = fixture_stop(proxyServer, proxyTestServer) }()

			if proxyServer.Registration().Current() != "site-v1" {
				t.Errorf("Expected generation site-v1 to be current, got %q", proxyServer.Registration().Current())
			}

			resp, body := get(t, client, upstream.URL+"/")
			if resp.Header.Get("X-Cache") != "HIT" {
				t.Errorf("Expected X-Cache: HIT, got %s", resp.Header.Get("X-Cache"))
			}
			if !strings.Contains(body, "Hello from upstream: /") {
				t.Errorf("Unexpected response body: %s", body)
			}

			resp, _ = get(t, client, upstream.URL+"/pages/other.html")
			if resp.StatusCode != http.StatusBadGateway {
				t.Errorf("Expected status 502 for an uncached page offline, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGenerationUpgrade(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	tempDir := t.TempDir()
	manifestPath, err := fixture_manifest(tempDir, "/", "/pages/index.html")
	if err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	v1 := fixture_config(upstream.URL, tempDir, config.BackendSQLite, "site-v1", manifestPath)
	proxyServer, proxyTestServer, _, err := fixture_proxy(v1)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	if err := fixture_stop(proxyServer, proxyTestServer); err != nil {
		t.Fatalf("Failed to stop proxy server: %v", err)
	}

	v2 := fixture_config(upstream.URL, tempDir, config.BackendSQLite, "site-v2", manifestPath)
	proxyServer, proxyTestServer, _, err = fixture_proxy(v2)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	if err := fixture_stop(proxyServer, proxyTestServer); err != nil {
		t.Fatalf("Failed to stop proxy server: %v", err)
	}

	storage, err := cache.NewSQLite(v2.Cache.Database)
	if err != nil {
		t.Fatalf("Failed to open cache database: %v", err)
	}
	defer storage.Close()

	gens, err := proxy.ListGenerations(context.Background(), storage, "site-v2")
	if err != nil {
		t.Fatalf("Failed to list generations: %v", err)
	}
	if len(gens) != 1 || gens[0].Name != "site-v2" || gens[0].Entries != 2 {
		t.Errorf("Expected only site-v2 with 2 entries, got %+v", gens)
	}
}

func TestFailedUpgradeKeepsPreviousGeneration(t *testing.T) {
	upstream := fixture_upstream(nil)
	defer upstream.Close()

	tempDir := t.TempDir()
	manifestPath, err := fixture_manifest(tempDir, "/", "/pages/index.html")
	if err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	v1 := fixture_config(upstream.URL, tempDir, config.BackendSQLite, "site-v1", manifestPath)
	proxyServer, proxyTestServer, _, err := fixture_proxy(v1)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	if err := fixture_stop(proxyServer, proxyTestServer); err != nil {
		t.Fatalf("Failed to stop proxy server: %v", err)
	}

	// site-v2 lists a resource the origin does not have
	brokenManifest, err := fixture_manifest(t.TempDir(), "/", "/missing")
	if err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	v2 := fixture_config(upstream.URL, tempDir, config.BackendSQLite, "site-v2", brokenManifest)
	proxyServer, proxyTestServer, client, err := fixture_proxy(v2)
	if err != nil {
		t.Fatalf("Expected the proxy to keep serving site-v1, got: %v", err)
	}
	defer func() { _ = fixture_stop(proxyServer, proxyTestServer) }()

	if proxyServer.Registration().Current() != "site-v1" {
		t.Errorf("Expected site-v1 to stay current, got %q", proxyServer.Registration().Current())
	}

	resp, _ := get(t, client, upstream.URL+"/pages/index.html")
	if resp.Header.Get("X-Cache") != "HIT" {
		t.Errorf("Expected X-Cache: HIT, got %s", resp.Header.Get("X-Cache"))
	}

	storage, err := cache.NewSQLite(v1.Cache.Database)
	if err != nil {
		t.Fatalf("Failed to open cache database: %v", err)
	}
	defer storage.Close()

	gens, err := proxy.ListGenerations(context.Background(), storage, "site-v1")
	if err != nil {
		t.Fatalf("Failed to list generations: %v", err)
	}
	if len(gens) != 1 || gens[0].Name != "site-v1" {
		t.Errorf("Expected only site-v1 to remain, got %+v", gens)
	}
}
