// Package config loads repolens server settings from an optional YAML file
// named by REPOLENS_CONFIG, then applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every server setting.
type Config struct {
	Port      string    `yaml:"port"`
	GitHub    GitHub    `yaml:"github"`
	Redis     Redis     `yaml:"redis"`
	RateLimit RateLimit `yaml:"rateLimit"`
	OTel      OTel      `yaml:"otel"`
}

// GitHub configures API access.
type GitHub struct {
	// APIURL is empty for api.github.com, or e.g. http://localhost:9090 for mock-github.
	APIURL string `yaml:"apiUrl"`
	// Token serves requests that carry no Authorization header.
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// TimeoutsAsRateLimit reports request timeouts as rate-limit errors.
	TimeoutsAsRateLimit bool `yaml:"timeoutsAsRateLimit"`
	App                 App  `yaml:"app"`
}

// App identifies a GitHub App installation. All three fields must be set for
// app auth to be used.
type App struct {
	ID             int64  `yaml:"id"`
	InstallationID int64  `yaml:"installationId"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

// Enabled reports whether app auth is configured.
func (a App) Enabled() bool {
	return a.ID != 0 && a.InstallationID != 0 && a.PrivateKeyPath != ""
}

// Redis configures the listing cache. An empty Addr disables it.
type Redis struct {
	Addr       string        `yaml:"addr"`
	ListingTTL time.Duration `yaml:"listingTtl"`
}

// RateLimit configures budget polling.
type RateLimit struct {
	PollInterval time.Duration `yaml:"pollInterval"`
}

// OTel toggles telemetry export.
type OTel struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port: "8080",
		GitHub: GitHub{
			RequestTimeout: 5 * time.Second,
		},
		Redis: Redis{
			ListingTTL: 10 * time.Minute,
		},
		RateLimit: RateLimit{
			PollInterval: 60 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// REPOLENS_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("REPOLENS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.GitHub.APIURL = envOr("GITHUB_API_URL", cfg.GitHub.APIURL)
	cfg.GitHub.Token = envOr("GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.GitHub.App.PrivateKeyPath = envOr("GITHUB_APP_PRIVATE_KEY_PATH", cfg.GitHub.App.PrivateKeyPath)
	cfg.Redis.Addr = envOr("REDIS_ADDR", cfg.Redis.Addr)

	var errs []error
	set := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	set(envInt64("GITHUB_APP_ID", &cfg.GitHub.App.ID))
	set(envInt64("GITHUB_APP_INSTALLATION_ID", &cfg.GitHub.App.InstallationID))
	set(envDuration("REQUEST_TIMEOUT", &cfg.GitHub.RequestTimeout))
	set(envDuration("RATE_LIMIT_POLL_INTERVAL", &cfg.RateLimit.PollInterval))
	set(envDuration("LISTING_CACHE_TTL", &cfg.Redis.ListingTTL))
	set(envBool("OTEL_ENABLED", &cfg.OTel.Enabled))
	set(envBool("TIMEOUTS_AS_RATE_LIMIT", &cfg.GitHub.TimeoutsAsRateLimit))
	return errors.Join(errs...)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.GitHub.APIURL != "" {
		u, err := url.Parse(c.GitHub.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("github api url %q must be an absolute http(s) URL", c.GitHub.APIURL))
		}
	}
	if c.GitHub.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.RateLimit.PollInterval <= 0 {
		errs = append(errs, errors.New("rate limit poll interval must be positive"))
	}
	if c.Redis.ListingTTL <= 0 {
		errs = append(errs, errors.New("listing cache ttl must be positive"))
	}
	app := c.GitHub.App
	if !app.Enabled() && (app.ID != 0 || app.InstallationID != 0 || app.PrivateKeyPath != "") {
		errs = append(errs, errors.New("github app auth needs id, installation id and private key path"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
