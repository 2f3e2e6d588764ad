package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.String())
}

// hostPort returns host with the port of scheme when it has none
func hostPort(host, scheme string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return strings.ToLower(host)
	}
	port := "80"
	if scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(strings.ToLower(host), port)
}

// inScope reports whether r targets the site's origin
func (s *Server) inScope(r *http.Request) bool {
	scheme := r.URL.Scheme
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return strings.EqualFold(scheme, s.origin.Scheme) &&
		hostPort(host, scheme) == hostPort(s.origin.Host, s.origin.Scheme)
}

// inScopeHost reports whether a CONNECT target is the site's host
func (s *Server) inScopeHost(host string) bool {
	return s.origin.Scheme == "https" && hostPort(host, "https") == hostPort(s.origin.Host, "https")
}

// isNavigation reports whether r loads a page rather than a subresource
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
