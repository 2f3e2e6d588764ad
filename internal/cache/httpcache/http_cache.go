package httpcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/iTrooz/offline-cache/internal/cache"
	"github.com/sirupsen/logrus"
)

// HTTPCache stores response snapshots in one cache generation, keyed by request identity
type HTTPCache struct {
	store cache.Store
}

// Generates the identity of a request: upper-cased method and absolute URL without fragment
func GenerateKey(request *http.Request) (string, error) {
	if request.URL == nil || !request.URL.IsAbs() {
		return "", fmt.Errorf("request URL must be absolute, got %v", request.URL)
	}

	u := *request.URL
	u.Fragment = ""
	u.RawFragment = ""

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + u.String(), nil
}

// Name of the generation backing this cache
func (d *HTTPCache) Name() string {
	return d.store.Name()
}

// Put stores a snapshot of resp for request. resp.Body stays readable for the caller.
func (d *HTTPCache) Put(ctx context.Context, request *http.Request, resp *http.Response) error {
	cacheKey, err := GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}

	if err := d.store.Set(ctx, cacheKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// Match returns the stored response for request, or nil, nil on a miss
func (d *HTTPCache) Match(ctx context.Context, request *http.Request) (*http.Response, error) {
	cacheKey, err := GenerateKey(request)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	data, err := d.store.Get(ctx, cacheKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	// Associate the original request with the response
	resp.Request = request

	logrus.Debugf("Cache hit for %s in %s", cacheKey, d.store.Name())
	return resp, nil
}

// Keys lists the request identities stored in this generation
func (d *HTTPCache) Keys(ctx context.Context) ([]string, error) {
	return d.store.Keys(ctx)
}
