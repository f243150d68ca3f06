// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capability

import (
	"errors"
	"sync"
)

// ErrBudgetExhausted is returned by Budget.Spend once the per-session
// capability call budget runs out. It is never retried; the scheduler
// treats it as a graceful stop signal, not a crash.
var ErrBudgetExhausted = errors.New("session call budget exhausted")

// Budget counts capability calls against a per-session cap. Every attempt
// (including retries) spends one unit. The zero limit means unlimited.
type Budget struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
}

// NewBudget returns a budget of n calls; n <= 0 means unlimited.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n, unlimited: n <= 0}
}

// Spend consumes one call, or returns ErrBudgetExhausted when none remain.
func (b *Budget) Spend() error {
	if b.unlimited {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining <= 0 {
		return ErrBudgetExhausted
	}
	b.remaining--
	return nil
}

// Exhausted reports whether the budget has run out.
func (b *Budget) Exhausted() bool {
	if b.unlimited {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining <= 0
}
