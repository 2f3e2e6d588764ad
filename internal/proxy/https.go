package proxy

import (
	"crypto/tls"
	"fmt"

	"github.com/iTrooz/offline-cache/internal/config"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

func loadCertificate(cfg *config.Config) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Server.HTTPS.CACert, cfg.Server.HTTPS.CAKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.Server.HTTPS.CACert)
	return &cert, nil
}

// setupHTTPSProxyHandler intercepts CONNECT tunnels to the site so its
// HTTPS pages go through the cache. Tunnels to other hosts are left alone.
func (s *Server) setupHTTPSProxyHandler() error {
	caCert, err := loadCertificate(s.config)
	if err != nil {
		return err
	}

	mitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(caCert),
	}
	s.proxy.CertStore = newCertStore()
	s.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !s.inScopeHost(host) {
			return goproxy.OkConnect, host
		}
		logrus.Debugf("Intercepting CONNECT request for %s", host)
		return mitm, host
	}))
	return nil
}
