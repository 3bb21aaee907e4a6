package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"time"

	errs "pkgmirror/pkg/errors"
)

// BackoffStrategy returns the pause before retry number attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows Base by Multiplier per attempt up to Max, then
// spreads the result by +/- Jitter (a fraction of the delay)
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := math.Min(float64(b.Base)*math.Pow(b.Multiplier, float64(attempt-1)), float64(b.Max))
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// ConstantBackoff always waits Delay
type ConstantBackoff struct {
	Delay time.Duration
}

func (b *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return b.Delay
}

// StatusBackoff chooses a strategy from the registry failure behind an
// error: throttling (429) waits far longer than a dropped connection.
type StatusBackoff struct {
	Network     BackoffStrategy
	RateLimited BackoffStrategy
	Server      BackoffStrategy
	Default     BackoffStrategy
}

// NewStatusBackoff returns the delays used against the public registry
func NewStatusBackoff() *StatusBackoff {
	return &StatusBackoff{
		Network:     &ExponentialBackoff{Base: time.Second, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2},
		RateLimited: &ExponentialBackoff{Base: 30 * time.Second, Max: 5 * time.Minute, Multiplier: 1.5, Jitter: 0.3},
		Server:      &ExponentialBackoff{Base: 5 * time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.1},
		Default:     &ExponentialBackoff{Base: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.1},
	}
}

// NextDelay is the Default strategy; Do consults For when it has the error
func (b *StatusBackoff) NextDelay(attempt int) time.Duration {
	return b.Default.NextDelay(attempt)
}

// For returns the strategy for err
func (b *StatusBackoff) For(err error) BackoffStrategy {
	var e *errs.Error
	if !errors.As(err, &e) {
		return b.Default
	}
	switch {
	case e.Code == http.StatusTooManyRequests:
		return b.RateLimited
	case e.Code >= 500:
		return b.Server
	case e.Code == 0 && e.Type == errs.ErrorTypeTransient:
		return b.Network
	}
	return b.Default
}

// Wait sleeps for delay, returning early with the context's error
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
