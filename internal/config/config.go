package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/epggen/internal/safety"
)

// Config is the top-level configuration
type Config struct {
	Cache     CacheConfig               `yaml:"cache"`
	Fetch     FetchConfig               `yaml:"fetch"`
	History   HistoryConfig             `yaml:"history"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// CacheConfig holds snapshot cache settings
type CacheConfig struct {
	Dir        string `yaml:"dir"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FetchConfig holds network and retry settings shared by all providers
type FetchConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	UserAgent      string        `yaml:"user_agent"`
}

// HistoryConfig holds run history database settings
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// ProviderConfig is the raw YAML config for a provider
type ProviderConfig map[string]interface{}

// ScheduleProviderConfig is the typed config shared by schedule providers
type ScheduleProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Region  int    `yaml:"region"`
	TZ      int    `yaml:"tz"`
}

// Built-in provider defaults.
var providerDefaults = map[string]ScheduleProviderConfig{
	"mailru": {Enabled: true, BaseURL: "https://tv.mail.ru/ajax/", Region: 70, TZ: 180},
	"yandex": {Enabled: true, BaseURL: "https://tv.yandex.ru/ajax/i-tv-region/get", Region: 213, TZ: 180},
}

// KnownProviders returns the names of the built-in providers in their
// canonical order.
func KnownProviders() []string {
	return []string{"mailru", "yandex"}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			MaxAgeDays: 7,
		},
		Fetch: FetchConfig{
			RetryAttempts:  5,
			RetryDelay:     5 * time.Second,
			RateLimitDelay: 5 * time.Minute,
			Timeout:        60 * time.Second,
			MaxBodyBytes:   64 << 20,
			UserAgent:      "epggen/0.1",
		},
		Providers: make(map[string]ProviderConfig),
	}
	for _, name := range KnownProviders() {
		d := providerDefaults[name]
		cfg.Providers[name] = ProviderConfig{
			"enabled":  d.Enabled,
			"base_url": d.BaseURL,
			"region":   d.Region,
			"tz":       d.TZ,
		}
	}
	return cfg
}

// Load reads a config file from the given path. Environment variables in the
// file body are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"epggen.yaml",
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		searchPaths = append(searchPaths, filepath.Join(xdg, "epggen", "epggen.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "epggen", "epggen.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks value ranges of the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Cache,
		validation.Field(&c.Cache.MaxAgeDays, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	for name := range c.Providers {
		pc, err := c.Provider(name)
		if err != nil {
			return err
		}
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("providers.%s: %w", name, err)
		}
	}
	return nil
}

// Validate validates the fetch configuration.
func (c *FetchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RetryAttempts, validation.Min(1), validation.Max(20)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RateLimitDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
		validation.Field(&c.MaxBodyBytes, validation.Min(int64(1024))),
	)
}

// Validate validates a provider configuration.
func (c *ScheduleProviderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Region, validation.Min(0)),
		validation.Field(&c.TZ, validation.Min(-14*60), validation.Max(14*60)),
	)
}

func httpURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := safety.ValidateHTTPURL(s)
	return err
}

// ProviderEnabled checks if a provider is enabled in the config. A provider
// section without an explicit "enabled" key counts as enabled.
func (c *Config) ProviderEnabled(name string) bool {
	pc, ok := c.Providers[name]
	if !ok {
		return false
	}
	enabled, ok := pc["enabled"]
	if !ok {
		return true
	}
	b, ok := enabled.(bool)
	return ok && b
}

// Provider returns the typed settings of a provider with built-in defaults
// filling every key the config leaves out.
func (c *Config) Provider(name string) (*ScheduleProviderConfig, error) {
	raw := c.Providers[name]
	typed, err := ParseProviderConfig[ScheduleProviderConfig](raw)
	if err != nil {
		return nil, fmt.Errorf("providers.%s: %w", name, err)
	}
	d, known := providerDefaults[name]
	if !known {
		return typed, nil
	}
	if _, ok := raw["enabled"]; !ok {
		typed.Enabled = d.Enabled
	}
	if _, ok := raw["base_url"]; !ok {
		typed.BaseURL = d.BaseURL
	}
	if _, ok := raw["region"]; !ok {
		typed.Region = d.Region
	}
	if _, ok := raw["tz"]; !ok {
		typed.TZ = d.TZ
	}
	return typed, nil
}

// HistoryDBPath returns the run history database path, defaulting to a file
// inside the cache root.
func (c *Config) HistoryDBPath(cacheRoot string) string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	return filepath.Join(cacheRoot, "history.db")
}

// ParseProviderConfig unmarshals a provider's raw config into a typed struct
func ParseProviderConfig[T any](raw ProviderConfig) (*T, error) {
	// Re-marshal to YAML then unmarshal to typed struct
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshaling provider config: %w", err)
	}
	var typed T
	if err := yaml.Unmarshal(data, &typed); err != nil {
		return nil, fmt.Errorf("parsing provider config: %w", err)
	}
	return &typed, nil
}
