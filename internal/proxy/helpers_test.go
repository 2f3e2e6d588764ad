package proxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/stretchr/testify/require"
)

// site is a fake origin serving a few pages and counting hits per path
type site struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := newUnstartedSite(t)
	s.Start()
	return s
}

// newTLSSite is newSite over HTTPS, with a certificate trusted by s.Client()
func newTLSSite(t *testing.T) *site {
	t.Helper()
	s := newUnstartedSite(t)
	s.StartTLS()
	return s
}

func newUnstartedSite(t *testing.T) *site {
	t.Helper()
	s := &site{hits: make(map[string]int)}
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>Portfolio</h1>"))
		case "/css/style.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("body{}"))
		case "/about.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>About</h1>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *site) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func testConfig(t *testing.T, origin string) *config.Config {
	t.Helper()
	manifestFile := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestFile, []byte("resources:\n  - /\n  - /index.html\n  - /css/style.css\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Site.Origin = origin
	cfg.Server.FetchTimeout = "5s"
	cfg.Cache.Backend = config.BackendMemory
	cfg.Cache.Name = "test-v1"
	cfg.Cache.Manifest = manifestFile
	return cfg
}

// newTestServer creates and initializes a server for cfg
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	require.NoError(t, cfg.Validate())
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	require.NoError(t, s.Init(context.Background()))
	return s
}

// serveProxy exposes s over HTTP and returns a client using it as its proxy
func serveProxy(t *testing.T, s *Server) (*httptest.Server, *http.Client) {
	t.Helper()
	front := httptest.NewServer(s.GetProxy())
	t.Cleanup(front.Close)

	proxyURL, err := url.Parse(front.URL)
	require.NoError(t, err)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   10 * time.Second,
	}
	return front, client
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func post(t *testing.T, rawURL, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(rawURL, contentType, strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

// writeTestCA creates a CA certificate and key for HTTPS interception and
// returns their paths and a pool trusting the CA
func writeTestCA(t *testing.T) (string, string, *x509.CertPool) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "offline-cache test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "ca.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), 0600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return certFile, keyFile, pool
}
