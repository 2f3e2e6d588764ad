package proxy

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSInterception(t *testing.T) {
	site := newTLSSite(t)
	certFile, keyFile, pool := writeTestCA(t)

	cfg := testConfig(t, site.URL)
	cfg.Server.HTTPS = config.HTTPSConfig{Enabled: true, CACert: certFile, CAKey: keyFile}
	require.NoError(t, cfg.Validate())

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	s.client.Transport = site.Client().Transport
	require.NoError(t, s.Init(context.Background()))

	front := httptest.NewServer(s.GetProxy())
	defer front.Close()
	proxyURL, err := url.Parse(front.URL)
	require.NoError(t, err)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(site.URL + "/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "<h1>Portfolio</h1>", readAll(t, resp))
	assert.Equal(t, 1, site.count("/index.html"))

	store, ok := s.GetProxy().CertStore.(*certStore)
	require.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestLoadCertificate(t *testing.T) {
	certFile, keyFile, _ := writeTestCA(t)

	cfg := config.DefaultConfig()
	cfg.Server.HTTPS = config.HTTPSConfig{Enabled: true, CACert: certFile, CAKey: keyFile}
	cert, err := loadCertificate(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	cfg.Server.HTTPS.CAKey = certFile
	_, err = loadCertificate(cfg)
	assert.Error(t, err)
}
