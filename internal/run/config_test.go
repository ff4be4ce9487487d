package run

import (
	"errors"
	"testing"
	"time"
)

func TestNewConfigDefaultsAndClamps(t *testing.T) {
	cfg, err := NewConfig(0, false, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Concurrency != defaultConcurrency || cfg.RetryAttempts != defaultAttempts || cfg.RetryBaseDelay != defaultRetryBase {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	cfg, err = NewConfig(50, false, 0, 2, time.Second)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.Concurrency != MaxConcurrency {
		t.Fatalf("concurrency not clamped: %d", cfg.Concurrency)
	}
}

func TestNewConfigRejectsNegatives(t *testing.T) {
	cases := []struct {
		concurrency int
		throttle    time.Duration
		attempts    int
		base        time.Duration
	}{
		{-1, 0, 0, 0},
		{0, -time.Second, 0, 0},
		{0, 0, -2, 0},
		{0, 0, 0, -time.Millisecond},
	}
	for _, tc := range cases {
		if _, err := NewConfig(tc.concurrency, false, tc.throttle, tc.attempts, tc.base); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", tc, err)
		}
	}
}

func TestEffectiveSequentialForcesFloor(t *testing.T) {
	cfg, _ := NewConfig(4, true, 10*time.Millisecond, 0, 0)
	eff, downgraded := cfg.effective(10)
	if downgraded {
		t.Fatalf("sequential mode is not a downgrade")
	}
	if eff.Concurrency != 1 || eff.ThrottleDelay != throttleFloor {
		t.Fatalf("sequential not applied: %+v", eff)
	}
}

func TestEffectiveLargeGalleryDowngrade(t *testing.T) {
	cfg, _ := NewConfig(5, false, 0, 0, 0)

	eff, downgraded := cfg.effective(largeGalleryThreshold)
	if !downgraded || eff.Concurrency != 1 || eff.ThrottleDelay < throttleFloor {
		t.Fatalf("downgrade not applied: %+v (downgraded=%v)", eff, downgraded)
	}
	// The original configuration stays untouched.
	if cfg.Concurrency != 5 || cfg.ThrottleDelay != 0 {
		t.Fatalf("original config mutated: %+v", cfg)
	}

	if _, downgraded := cfg.effective(largeGalleryThreshold - 1); downgraded {
		t.Fatalf("downgrade must only trigger at the threshold")
	}
	// Already-sequential runs are not reported as downgraded.
	seq, _ := NewConfig(1, false, time.Second, 0, 0)
	if _, downgraded := seq.effective(5000); downgraded {
		t.Fatalf("concurrency 1 needs no downgrade")
	}
}
