// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package capability classifies external-service failures and provides the
// retry policy shared by the retrieval and scoring adapters.
package capability

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions capability failures by how callers should react.
type Kind int

const (
	// KindTransient covers timeouts, rate limits, and 5xx responses;
	// callers retry these with backoff.
	KindTransient Kind = iota

	// KindPermanent covers malformed requests and auth failures; callers
	// record the failure and move on without retrying.
	KindPermanent
)

// Error wraps a capability failure with its retry classification. Status
// holds the HTTP status code when the failure came from a response, 0
// otherwise.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable capability failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable capability failure.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// FromStatus classifies an HTTP response status. Rate limits (429) and
// server errors are transient; everything else non-2xx is permanent.
func FromStatus(op string, status int) error {
	kind := KindPermanent
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Status: status, Err: fmt.Errorf("HTTP %d", status)}
}

// IsTransient reports whether err is (or wraps) a transient capability failure.
func IsTransient(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindTransient
}

// IsPermanent reports whether err is (or wraps) a permanent capability failure.
func IsPermanent(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindPermanent
}

// IsRateLimit reports whether err carries an HTTP 429 signal, so callers
// can distinguish rate limiting from other transient failures.
func IsRateLimit(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusTooManyRequests
}
