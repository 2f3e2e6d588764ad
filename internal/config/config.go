package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore: OFFLINE_CACHE_SERVER__PORT sets server.port.
const EnvPrefix = "OFFLINE_CACHE_"

// Storage backends
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" koanf:"server"`
	Site    SiteConfig    `yaml:"site" koanf:"site"`
	Cache   CacheConfig   `yaml:"cache" koanf:"cache"`
	Push    PushConfig    `yaml:"push" koanf:"push"`
	Sync    SyncConfig    `yaml:"sync" koanf:"sync"`
	Contact ContactConfig `yaml:"contact" koanf:"contact"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port         int         `yaml:"port" koanf:"port"`
	FetchTimeout string      `yaml:"fetch_timeout" koanf:"fetch_timeout"`
	HTTPS        HTTPSConfig `yaml:"https" koanf:"https"`
}

// HTTPSConfig enables interception of HTTPS requests to the site
type HTTPSConfig struct {
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
	CACert  string `yaml:"ca_cert" koanf:"ca_cert"`
	CAKey   string `yaml:"ca_key" koanf:"ca_key"`
}

// SiteConfig describes the origin whose pages are kept available offline
type SiteConfig struct {
	Origin string `yaml:"origin" koanf:"origin"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	// Name is the generation tag. Changing it installs a new generation.
	Name     string `yaml:"name" koanf:"name"`
	Backend  string `yaml:"backend" koanf:"backend"`
	Folder   string `yaml:"folder" koanf:"folder"`
	Database string `yaml:"database" koanf:"database"`
	// Manifest is a YAML file listing the precached paths. Empty means the built-in list.
	Manifest           string `yaml:"manifest" koanf:"manifest"`
	SkipWaiting        bool   `yaml:"skip_waiting" koanf:"skip_waiting"`
	InstallConcurrency int    `yaml:"install_concurrency" koanf:"install_concurrency"`
}

// PushConfig holds the fixed parts of push notifications
type PushConfig struct {
	Title       string `yaml:"title" koanf:"title"`
	DefaultBody string `yaml:"default_body" koanf:"default_body"`
	Icon        string `yaml:"icon" koanf:"icon"`
	Badge       string `yaml:"badge" koanf:"badge"`
	Vibrate     []int  `yaml:"vibrate" koanf:"vibrate"`
	OpenURL     string `yaml:"open_url" koanf:"open_url"`
}

// SyncConfig contains background sync configuration
type SyncConfig struct {
	Tag string `yaml:"tag" koanf:"tag"`
}

// ContactConfig configures the contact form outbox
type ContactConfig struct {
	Endpoint  string `yaml:"endpoint" koanf:"endpoint"`
	AccessKey string `yaml:"access_key" koanf:"access_key"`
	Database  string `yaml:"database" koanf:"database"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			FetchTimeout: "30s",
		},
		Site: SiteConfig{
			Origin: "http://localhost:8000",
		},
		Cache: CacheConfig{
			Name:               "akila-portfolio-v1",
			Backend:            BackendDisk,
			Folder:             "./cache",
			Database:           "./cache/cache.db",
			SkipWaiting:        true,
			InstallConcurrency: 4,
		},
		Push: PushConfig{
			Title:       "Akila Portfolio",
			DefaultBody: "New notification",
			Icon:        "/images/icon.png",
			Badge:       "/images/icon.png",
			Vibrate:     []int{100, 50, 100},
			OpenURL:     "/",
		},
		Sync: SyncConfig{
			Tag: "sync-messages",
		},
		Contact: ContactConfig{
			Endpoint: "https://api.web3forms.com/submit",
			Database: "./cache/outbox.db",
		},
	}
}

// Load loads configuration from defaults, the YAML file at path (if it
// exists) and OFFLINE_CACHE_* environment variables, in that order
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// envKey maps OFFLINE_CACHE_CACHE__SKIP_WAITING to cache.skip_waiting
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// GetFetchTimeout parses and returns the upstream fetch timeout
func (c *Config) GetFetchTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Server.FetchTimeout)
}

// GetOrigin parses and returns the site origin
func (c *Config) GetOrigin() (*url.URL, error) {
	u, err := url.Parse(c.Site.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute http(s) URL, got %q", c.Site.Origin)
	}
	if u.Path != "" && u.Path != "/" || u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("origin must not have a path, query or fragment, got %q", c.Site.Origin)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("invalid port: %d", c.Server.Port)
	}

	if c.Server.FetchTimeout == "" {
		return invalid("server fetch timeout is required")
	}

	if d, err := c.GetFetchTimeout(); err != nil {
		return invalid("invalid fetch timeout format: %v", err)
	} else if d < 0 {
		return invalid("fetch timeout must not be negative")
	}

	if c.Server.HTTPS.Enabled && (c.Server.HTTPS.CACert == "" || c.Server.HTTPS.CAKey == "") {
		return invalid("https interception requires ca_cert and ca_key")
	}

	if _, err := c.GetOrigin(); err != nil {
		return invalid("invalid site origin: %v", err)
	}

	if c.Cache.Name == "" {
		return invalid("cache name is required")
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendDisk:
		if c.Cache.Folder == "" {
			return invalid("cache folder is required for the disk backend")
		}
	case BackendSQLite:
		if c.Cache.Database == "" {
			return invalid("cache database is required for the sqlite backend")
		}
	default:
		return invalid("cache backend must be 'memory', 'disk' or 'sqlite', got: %s", c.Cache.Backend)
	}

	if c.Cache.InstallConcurrency < 0 {
		return invalid("install concurrency must be non-negative")
	}

	if c.Sync.Tag == "" {
		return invalid("sync tag is required")
	}

	if c.Contact.AccessKey != "" && c.Contact.Endpoint == "" {
		return invalid("contact endpoint is required when an access key is set")
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.CodeInvalidConfig, format, args...)
}
