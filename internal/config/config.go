package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultDataDir        = "data"
	defaultPageSize       = 50
	defaultRetryAttempts  = 3
	defaultRetryBaseMs    = 500
	defaultFetchTimeoutS  = 30
	defaultListingTimeout = 20
)

// Config describes runtime configuration for the service.
type Config struct {
	Port           int    `yaml:"port"`
	DataDir        string `yaml:"data_dir"`
	ListingURL     string `yaml:"listing_url"`
	PageSize       int    `yaml:"page_size"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryBaseMs    int    `yaml:"retry_base_ms"`
	FetchTimeoutS  int    `yaml:"fetch_timeout_s"`
	ListingTimeout int    `yaml:"listing_timeout_s"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:           defaultPort,
		DataDir:        defaultDataDir,
		PageSize:       defaultPageSize,
		RetryAttempts:  defaultRetryAttempts,
		RetryBaseMs:    defaultRetryBaseMs,
		FetchTimeoutS:  defaultFetchTimeoutS,
		ListingTimeout: defaultListingTimeout,
	}
}

// Load reads YAML config from the provided path. A missing or empty file
// yields the defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.PageSize < 1 {
		return cfg, fmt.Errorf("invalid page_size: %d (must be >= 1)", cfg.PageSize)
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryAttempts < 1 {
		return cfg, fmt.Errorf("invalid retry_attempts: %d (must be >= 1)", cfg.RetryAttempts)
	}
	if cfg.RetryBaseMs <= 0 {
		cfg.RetryBaseMs = defaultRetryBaseMs
	}
	if cfg.FetchTimeoutS <= 0 {
		cfg.FetchTimeoutS = defaultFetchTimeoutS
	}
	if cfg.ListingTimeout <= 0 {
		cfg.ListingTimeout = defaultListingTimeout
	}
	return cfg, nil
}

// RetryBaseDelay returns the retry backoff base as a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

// FetchTimeout returns the per-request download timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutS) * time.Second
}

// ListingRequestTimeout returns the listing page request timeout.
func (c Config) ListingRequestTimeout() time.Duration {
	return time.Duration(c.ListingTimeout) * time.Second
}
