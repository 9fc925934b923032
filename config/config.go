// Package config loads client configuration from a YAML file and the
// environment. Environment variables override file values; a .env file in
// the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gollms"
	"gollms/internal/backend"
	"gollms/internal/modelcache"
)

// Config is the external configuration schema.
type Config struct {
	BaseURL              string    `yaml:"base_url"`
	APIKey               string    `yaml:"api_key"`
	Backend              string    `yaml:"backend"`
	Model                string    `yaml:"model"`
	TLS                  TLSConfig `yaml:"tls"`
	UseExtendedEndpoints bool      `yaml:"use_extended_endpoints"`
	// RequestTimeoutMs is the per-request timeout in milliseconds.
	RequestTimeoutMs int         `yaml:"request_timeout_ms"`
	Cache            CacheConfig `yaml:"cache"`
}

// TLSConfig holds the TLS trust options.
type TLSConfig struct {
	SkipVerify       bool   `yaml:"skip_verify"`
	CACertPath       string `yaml:"ca_cert_path"`
	PinnedCertSHA256 string `yaml:"pinned_cert_sha256"`
}

// CacheConfig selects the persistent store for the model-list cache.
type CacheConfig struct {
	// Backend is one of "file", "sqlite", "redis" or "none".
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// Load reads the optional YAML file at path (skipped when path is empty or
// missing), then applies environment overrides.
func Load(path string) (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	cfg := &Config{
		Backend:          string(gollms.BackendOpenAI),
		RequestTimeoutMs: 120000,
		Cache:            CacheConfig{Backend: "file", Path: defaultCachePath()},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("GOLLMS_BASE_URL", &cfg.BaseURL)
	setString("GOLLMS_API_KEY", &cfg.APIKey)
	setString("GOLLMS_BACKEND", &cfg.Backend)
	setString("GOLLMS_MODEL", &cfg.Model)
	setBool("GOLLMS_TLS_SKIP_VERIFY", &cfg.TLS.SkipVerify)
	setString("GOLLMS_TLS_CA_CERT", &cfg.TLS.CACertPath)
	setBool("GOLLMS_USE_EXTENDED", &cfg.UseExtendedEndpoints)
	if v := os.Getenv("GOLLMS_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.RequestTimeoutMs = ms
		}
	}
	setString("GOLLMS_CACHE", &cfg.Cache.Backend)
	setString("GOLLMS_CACHE_PATH", &cfg.Cache.Path)
	setString("GOLLMS_REDIS_URL", &cfg.Cache.RedisURL)
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required (GOLLMS_BASE_URL)")
	}
	if !slices.Contains(backend.Kinds(), backend.Kind(c.Backend)) {
		return fmt.Errorf("unknown backend %q (expected one of %v)", c.Backend, backend.Kinds())
	}
	switch c.Cache.Backend {
	case "", "none", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required for the redis cache backend")
	}
	return nil
}

// ClientConfig maps the external schema onto the client's configuration.
func (c *Config) ClientConfig() gollms.Config {
	return gollms.Config{
		BaseURL:              c.BaseURL,
		APIKey:               c.APIKey,
		Kind:                 gollms.BackendKind(c.Backend),
		Model:                c.Model,
		TLSSkipVerify:        c.TLS.SkipVerify,
		TLSCACertPath:        strings.Trim(c.TLS.CACertPath, `"'`),
		TLSPinnedCertSHA256:  c.TLS.PinnedCertSHA256,
		UseExtendedEndpoints: c.UseExtendedEndpoints,
		RequestTimeout:       time.Duration(c.RequestTimeoutMs) * time.Millisecond,
	}
}

// Store builds the configured persistent model-cache store.
// Returns nil (no persistence) for the "none" backend.
func (c *Config) Store() (modelcache.Store, error) {
	switch c.Cache.Backend {
	case "", "none":
		return nil, nil
	case "file":
		path := c.Cache.Path
		if path == "" {
			path = defaultCachePath()
		}
		return modelcache.NewFileStore(path), nil
	case "sqlite":
		path := c.Cache.Path
		if path == "" {
			path = defaultCachePath() + ".db"
		}
		return modelcache.NewSQLiteStore(path)
	case "redis":
		return modelcache.NewRedisStore(modelcache.RedisConfig{URL: c.Cache.RedisURL})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "gollms" + string(os.PathSeparator) + "models.json"
}
