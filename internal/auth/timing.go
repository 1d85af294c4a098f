package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelay      time.Duration
	RandomDelay    time.Duration // upper bound of the random jitter
	DelayOnSuccess bool
}

// TimingDelay pads authentication responses so "user not found", "wrong
// device" and "wrong password" take about the same wall time
type TimingDelay struct {
	config TimingConfig
	sleep  func(ctx context.Context, d time.Duration)
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		sleep:  sleepContext,
	}
}

// NoDelay returns a TimingDelay that never waits
func NoDelay() *TimingDelay {
	return NewTimingDelay(TimingConfig{})
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// cryptoRandDuration returns a uniformly random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(randomBytes) % uint64(max))
}

func (td *TimingDelay) target() time.Duration {
	return td.config.BaseDelay + cryptoRandDuration(td.config.RandomDelay)
}

// WaitFrom sleeps until at least base+jitter has elapsed since start. Success
// returns immediately unless DelayOnSuccess is set.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}
	if remaining := td.target() - time.Since(start); remaining > 0 {
		td.sleep(ctx, remaining)
	}
}
