package worker

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ResponseType tells where a response came from relative to the manager's origin.
type ResponseType string

const (
	// TypeBasic is a same-origin response. Only these are cached.
	TypeBasic ResponseType = "basic"
	// TypeCORS is a cross-origin response the origin may read.
	TypeCORS ResponseType = "cors"
	// TypeOpaque is a cross-origin response without CORS headers.
	TypeOpaque ResponseType = "opaque"
)

// CacheStatus tells how a request was answered.
type CacheStatus string

const (
	// CacheHit is a response served from the current generation.
	CacheHit CacheStatus = "HIT"
	// CacheMiss is a network response that was stored.
	CacheMiss CacheStatus = "MISS"
	// CacheBypass is a network response that was not stored.
	CacheBypass CacheStatus = "BYPASS"
)

// Fetch answers an intercepted request, cache first.
//
// A stored response is returned as is, without any network call or freshness
// check. On a miss the request goes to the network; transport errors are
// returned unchanged. A 200 basic response that was not redirected is stored
// before Fetch returns; anything else is passed through and never stored.
func (m *Manager) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, _, err := m.Serve(ctx, req)
	return resp, err
}

// Serve is Fetch that also reports whether the response came from the cache.
func (m *Manager) Serve(ctx context.Context, req *http.Request) (*http.Response, CacheStatus, error) {
	log := m.log().WithField("url", req.URL.String())
	httpCache := m.currentCache()
	cacheable := isGet(req) && httpCache != nil

	if cacheable {
		resp, err := httpCache.Match(ctx, req)
		if err != nil {
			log.Errorf("Failed to look up cache: %v", err)
		} else if resp != nil {
			return resp, CacheHit, nil
		}
	}

	resp, err := m.opts.Fetcher.Do(req.WithContext(ctx))
	if err != nil {
		return nil, "", err
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}

	if !cacheable || !m.Cacheable(req, resp) {
		log.Debugf("Not caching response (status %d, type %s)", resp.StatusCode, m.ResponseType(req, resp))
		return resp, CacheBypass, nil
	}

	if err := httpCache.Put(ctx, req, resp); err != nil {
		log.Errorf("Failed to cache response: %v", err)
		return resp, CacheBypass, nil
	}
	return resp, CacheMiss, nil
}

// Cacheable reports whether resp may be stored for req:
// status exactly 200, basic type and no redirect.
func (m *Manager) Cacheable(req *http.Request, resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK &&
		m.ResponseType(req, resp) == TypeBasic &&
		!redirected(req, resp)
}

// ResponseType classifies resp by the origin of the URL it was finally served from.
func (m *Manager) ResponseType(req *http.Request, resp *http.Response) ResponseType {
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if sameOrigin(final, m.opts.Origin) {
		return TypeBasic
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		return TypeCORS
	}
	return TypeOpaque
}

func isGet(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

// redirected reports whether the response was served from another URL than requested
func redirected(req *http.Request, resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return withoutFragment(resp.Request.URL) != withoutFragment(req.URL)
}

func withoutFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func sameOrigin(a, b *url.URL) bool {
	return originOf(a) == originOf(b)
}

func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}
