// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capability

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/Annh770/Blatt/pkg/types"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// RetryPolicy applies exponential backoff with optional jitter to capability
// calls. One policy instance is shared by the retrieval and scoring adapters
// so both see the same retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// PolicyFromConfig builds a RetryPolicy, filling unset fields with defaults.
func PolicyFromConfig(cfg types.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Do runs op, retrying transient failures with exponential backoff. The
// delay doubles each attempt from BaseDelay up to MaxDelay. Permanent
// failures and budget exhaustion return immediately. If the context is
// cancelled during a backoff wait, Do returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt)):
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// delay computes the backoff before the given attempt (attempt >= 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	cap := p.MaxDelay
	if cap <= 0 {
		cap = defaultMaxDelay
	}

	d := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if d > cap || d <= 0 {
		d = cap
	}
	if p.Jitter {
		d = d/2 + rand.N(d/2+1)
	}
	return d
}
