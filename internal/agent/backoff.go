package agent

import (
	"context"
	"time"

	"relay/internal/config"
)

// BackoffPolicy computes the delay before each generic transport retry.
// Delays grow geometrically and are deterministic: no jitter, so the
// sequence for a given config is always the same.
type BackoffPolicy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

func PolicyFromConfig(rc config.RetryConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Duration(rc.BaseDelayMS) * time.Millisecond,
		Multiplier:  rc.Multiplier,
		Max:         time.Duration(rc.MaxDelayMS) * time.Millisecond,
		MaxAttempts: rc.MaxAttempts,
	}
}

// Delay returns the wait before retry number attempt (0-based). The
// sequence is monotonically non-decreasing and capped at Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.Max {
			return p.Max
		}
	}
	if time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
