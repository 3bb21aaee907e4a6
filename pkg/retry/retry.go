package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errs "pkgmirror/pkg/errors"
	"pkgmirror/pkg/logger"
)

// Config controls Do and DoWithResult. Zero fields take the defaults of
// DefaultConfig, except MaxAttempts where zero means no limit.
type Config struct {
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf reports whether err is worth another attempt
	RetryIf func(error) bool
	// OnRetry runs before the pause that precedes each retry
	OnRetry func(attempt int, err error, delay time.Duration)
	Context context.Context
	Logger  logger.Logger
}

// DefaultConfig allows three attempts with registry backoff
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     NewStatusBackoff(),
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.GetLogger(),
	}
}

// DefaultRetryIf retries transient failures only
func DefaultRetryIf(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errs.IsRetryable(errs.TypeOf(err))
}

// Do runs op until it succeeds, fails with an error RetryIf rejects, or
// runs out of attempts
func Do(op func() error, cfg *Config) error {
	_, err := DoWithResult(func() (struct{}, error) { return struct{}{}, op() }, cfg)
	return err
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](op func() (T, error), cfg *Config) (T, error) {
	c := withDefaults(cfg)

	for attempt := 1; ; attempt++ {
		v, err := op()
		if err == nil {
			if attempt > 1 {
				c.Logger.DebugWithFields("Succeeded after retry", map[string]interface{}{"attempt": attempt})
			}
			return v, nil
		}
		if !c.RetryIf(err) {
			return v, err
		}
		if c.MaxAttempts > 0 && attempt >= c.MaxAttempts {
			c.Logger.WithError(err).WarnWithFields("Giving up", map[string]interface{}{"attempts": attempt})
			return v, fmt.Errorf("max retry attempts (%d) exceeded: %w", c.MaxAttempts, err)
		}

		delay := c.Backoff.NextDelay(attempt)
		if sb, ok := c.Backoff.(*StatusBackoff); ok {
			delay = sb.For(err).NextDelay(attempt)
		}
		if c.OnRetry != nil {
			c.OnRetry(attempt, err, delay)
		}
		c.Logger.WithError(err).WarnWithFields("Retrying", map[string]interface{}{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		})

		if werr := Wait(c.Context, delay); werr != nil {
			return v, fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

func withDefaults(cfg *Config) Config {
	if cfg == nil {
		return *DefaultConfig()
	}
	c := *cfg
	if c.Context == nil {
		c.Context = context.Background()
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
	if c.Backoff == nil {
		c.Backoff = NewStatusBackoff()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}
	return c
}
