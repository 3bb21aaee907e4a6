package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pkgmirror/pkg/config"
)

// Policy paces remote calls. Before runs ahead of a call, After once it has
// completed. Both block and return the context error if ctx ends first.
type Policy interface {
	Before(ctx context.Context) error
	After(ctx context.Context) error
}

// NoDelay never waits
type NoDelay struct{}

func (NoDelay) Before(context.Context) error { return nil }
func (NoDelay) After(context.Context) error  { return nil }

// FixedDelay sleeps a fixed interval after every call. Nothing is slept
// before the first call of a run.
type FixedDelay struct {
	Delay time.Duration

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFixedDelay creates a fixed inter-request delay policy
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Delay: delay, sleep: Sleep}
}

func (f *FixedDelay) Before(context.Context) error { return nil }

func (f *FixedDelay) After(ctx context.Context) error {
	sleep := f.sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, f.Delay)
}

// Ceiling enforces a hard requests-per-minute cap using a token bucket
// with a burst of one
type Ceiling struct {
	limiter *rate.Limiter
}

// NewCeiling creates a ceiling of rpm requests per minute.
// It returns nil when rpm is not positive.
func NewCeiling(rpm int) *Ceiling {
	if rpm <= 0 {
		return nil
	}
	return &Ceiling{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)}
}

func (c *Ceiling) Before(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *Ceiling) After(context.Context) error { return nil }

// Chain runs several policies in order
type Chain []Policy

func (c Chain) Before(ctx context.Context) error {
	for _, p := range c {
		if err := p.Before(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) After(ctx context.Context) error {
	for _, p := range c {
		if err := p.After(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FromConfig builds the policy described by the rate limit section
func FromConfig(cfg config.RateLimitConfig) Policy {
	var chain Chain
	if ceiling := NewCeiling(cfg.RequestsPerMinute); ceiling != nil {
		chain = append(chain, ceiling)
	}
	if d := cfg.InterRequestDelay(); d > 0 {
		chain = append(chain, NewFixedDelay(d))
	}

	switch len(chain) {
	case 0:
		return NoDelay{}
	case 1:
		return chain[0]
	default:
		return chain
	}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recorder counts policy invocations. It is used to assert pacing in tests
// of packages that depend on a Policy.
type Recorder struct {
	mu      sync.Mutex
	befores int
	afters  int
}

func (r *Recorder) Before(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.befores++
	return nil
}

func (r *Recorder) After(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afters++
	return nil
}

// Counts returns the number of Before and After calls seen so far
func (r *Recorder) Counts() (before, after int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.befores, r.afters
}
