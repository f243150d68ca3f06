// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPolicy uses a tiny base delay so tests finish quickly.
func testPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

func TestDo_ImmediateSuccess(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls <= 2 {
			return FromStatus("score paper", 429)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent("score paper", errors.New("bad request"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return Transient("fetch citations", errors.New("timeout"))
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestDo_BudgetExhaustedStopsImmediately(t *testing.T) {
	b := NewBudget(1)
	require.NoError(t, b.Spend())

	calls := 0
	err := testPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return b.Spend()
	})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(context.Context) error {
		return FromStatus("fetch citations", 503)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFromStatus_Classification(t *testing.T) {
	assert.True(t, IsTransient(FromStatus("op", 429)))
	assert.True(t, IsTransient(FromStatus("op", 500)))
	assert.True(t, IsTransient(FromStatus("op", 504)))
	assert.True(t, IsPermanent(FromStatus("op", 400)))
	assert.True(t, IsPermanent(FromStatus("op", 401)))
	assert.True(t, IsPermanent(FromStatus("op", 404)))
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(FromStatus("op", 429)))
	assert.False(t, IsRateLimit(FromStatus("op", 500)))
	assert.False(t, IsRateLimit(errors.New("plain")))

	// Detection rides on the status code, not the message: it survives
	// wrapping, and message text alone does not trigger it.
	assert.True(t, IsRateLimit(fmt.Errorf("after 3 attempts: %w", FromStatus("op", 429))))
	assert.False(t, IsRateLimit(Transient("op", errors.New("HTTP 429"))))
}

func TestBudget_Unlimited(t *testing.T) {
	b := NewBudget(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Spend())
	}
	assert.False(t, b.Exhausted())
}

func TestBudget_SpendsDown(t *testing.T) {
	b := NewBudget(2)
	require.NoError(t, b.Spend())
	require.NoError(t, b.Spend())
	assert.True(t, b.Exhausted())
	assert.ErrorIs(t, b.Spend(), ErrBudgetExhausted)
}
