package run

import (
	"fmt"
	"time"
)

const (
	// MaxConcurrency caps the number of simultaneous downloads a caller
	// may request.
	MaxConcurrency = 10
	// largeGalleryThreshold is the item count at which a concurrent run is
	// downgraded to a gentler sequential one.
	largeGalleryThreshold = 800
	// throttleFloor is the minimum inter-item delay applied in sequential
	// mode and after a large-gallery downgrade.
	throttleFloor = 150 * time.Millisecond

	defaultConcurrency = 3
	defaultAttempts    = 3
	defaultRetryBase   = 500 * time.Millisecond
)

// Config is one run's immutable configuration. Large-gallery handling works
// on a derived copy; the original is never mutated.
type Config struct {
	Concurrency    int
	Sequential     bool
	ThrottleDelay  time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// NewConfig validates and clamps raw request values into a Config. Negative
// values are rejected outright; zero values fall back to defaults; requested
// concurrency is clamped to MaxConcurrency.
func NewConfig(concurrency int, sequential bool, throttle time.Duration, attempts int, retryBase time.Duration) (Config, error) {
	if concurrency < 0 {
		return Config{}, fmt.Errorf("%w: concurrency %d", ErrInvalidConfig, concurrency)
	}
	if throttle < 0 {
		return Config{}, fmt.Errorf("%w: throttle delay %s", ErrInvalidConfig, throttle)
	}
	if attempts < 0 {
		return Config{}, fmt.Errorf("%w: retry attempts %d", ErrInvalidConfig, attempts)
	}
	if retryBase < 0 {
		return Config{}, fmt.Errorf("%w: retry base delay %s", ErrInvalidConfig, retryBase)
	}

	cfg := Config{
		Concurrency:    concurrency,
		Sequential:     sequential,
		ThrottleDelay:  throttle,
		RetryAttempts:  attempts,
		RetryBaseDelay: retryBase,
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = MaxConcurrency
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultAttempts
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = defaultRetryBase
	}
	return cfg, nil
}

// effective derives the settings actually used for a run of total items.
// Sequential mode forces single-file downloads with a minimum inter-item
// delay; very large galleries get the same treatment as a stability
// safeguard. The second return reports whether a downgrade happened.
func (c Config) effective(total int) (Config, bool) {
	eff := c
	if eff.Sequential {
		eff.Concurrency = 1
		if eff.ThrottleDelay < throttleFloor {
			eff.ThrottleDelay = throttleFloor
		}
	}

	downgraded := false
	if total >= largeGalleryThreshold && eff.Concurrency > 1 {
		eff.Concurrency = 1
		if eff.ThrottleDelay < throttleFloor {
			eff.ThrottleDelay = throttleFloor
		}
		downgraded = true
	}
	return eff, downgraded
}
