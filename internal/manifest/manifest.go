// Package manifest describes the resources pre-cached by a new cache generation.
package manifest

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

// Manifest is the ordered list of resource paths cached at install time.
type Manifest struct {
	Resources []string `yaml:"resources"`
}

// Default returns the manifest embedded at build time.
func Default() Manifest {
	m, err := Parse(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded manifest is invalid: %v", err))
	}
	return m
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, errors.CodeInvalidInput, "parsing manifest YAML")
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads a manifest file.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest file: %w", err)
	}
	return Parse(data)
}

// Validate checks that every path is origin-relative and listed once.
// Installing a manifest with duplicate requests fails as a whole, so it is rejected up front.
func (m Manifest) Validate() error {
	if len(m.Resources) == 0 {
		return errors.New(errors.CodeInvalidInput, "manifest lists no resources")
	}

	seen := make(map[string]bool, len(m.Resources))
	for _, p := range m.Resources {
		if !strings.HasPrefix(p, "/") {
			return errors.Newf(errors.CodeInvalidInput, "manifest path %q must start with '/'", p)
		}
		if seen[p] {
			return errors.Newf(errors.CodeInvalidInput, "manifest path %q is listed twice", p)
		}
		seen[p] = true
	}
	return nil
}

// Resolve returns the absolute URL of every resource against origin, in manifest order.
func (m Manifest) Resolve(origin *url.URL) ([]*url.URL, error) {
	urls := make([]*url.URL, 0, len(m.Resources))
	for _, p := range m.Resources {
		ref, err := url.Parse(p)
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid manifest path %q", p)
		}
		urls = append(urls, origin.ResolveReference(ref))
	}
	return urls, nil
}
