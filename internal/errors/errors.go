// Package errors defines mentat's error taxonomy: a small set of sentinel
// categories that every subsystem wraps its failures in, so callers can
// branch on errors.Is rather than parsing messages.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel categories.
var (
	// ErrInvalidInput - malformed or missing required arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound - resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict - concurrent mutation conflict; retry deterministically.
	ErrConflict = errors.New("conflict")
	// ErrTransient - transient remote failure (timeout, 5xx, rate limit).
	ErrTransient = errors.New("transient error")
	// ErrInternal - unexpected internal failure.
	ErrInternal = errors.New("internal error")

	// ErrAuth - provider rejected credentials. Not retryable against the
	// same provider.
	ErrAuth = errors.New("auth error")
	// ErrRateLimit - provider reported rate limiting. Retryable.
	ErrRateLimit = errors.New("rate limit error")
	// ErrTimeout - a deadline elapsed before completion. Retryable.
	ErrTimeout = errors.New("timeout error")
	// ErrTransport - network/transport-level failure. Retryable.
	ErrTransport = errors.New("transport error")
	// ErrContent - provider returned a non-text/unparseable payload.
	ErrContent = errors.New("content error")

	// ErrAllProvidersFailed - every ranked provider failed every retry round.
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrQueueFull - a bounded queue rejected a new submission.
	ErrQueueFull = errors.New("queue full")
	// ErrServiceMissing - a registry lookup found no such service.
	ErrServiceMissing = errors.New("service missing")
	// ErrCacheEntryTooLarge - a cache set() exceeded the configured max size.
	ErrCacheEntryTooLarge = errors.New("cache entry too large")
)

// Wrap adds context to err without changing what errors.Is matches.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory replaces err's matchable identity with category while
// keeping message for humans; the original err is not part of the chain
// since the classification, not the low-level cause, is what callers match.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, category)
}

func IsCategory(err error, category error) bool {
	return err != nil && errors.Is(err, category)
}

func NotFound(message string) error          { return fmt.Errorf("%s: %w", message, ErrNotFound) }
func InvalidInput(message string) error       { return fmt.Errorf("%s: %w", message, ErrInvalidInput) }
func Transient(message string) error          { return fmt.Errorf("%s: %w", message, ErrTransient) }
func Internal(message string) error           { return fmt.Errorf("%s: %w", message, ErrInternal) }
func Conflict(message string) error           { return fmt.Errorf("%s: %w", message, ErrConflict) }
func Auth(message string) error               { return fmt.Errorf("%s: %w", message, ErrAuth) }
func RateLimit(message string) error          { return fmt.Errorf("%s: %w", message, ErrRateLimit) }
func Timeout(message string) error            { return fmt.Errorf("%s: %w", message, ErrTimeout) }
func Transport(message string) error          { return fmt.Errorf("%s: %w", message, ErrTransport) }
func Content(message string) error            { return fmt.Errorf("%s: %w", message, ErrContent) }
func QueueFull(message string) error          { return fmt.Errorf("%s: %w", message, ErrQueueFull) }
func ServiceMissing(message string) error     { return fmt.Errorf("%s: %w", message, ErrServiceMissing) }
func AllProvidersFailed(message string) error { return fmt.Errorf("%s: %w", message, ErrAllProvidersFailed) }

// IsRetryable reports whether a provider/transport error should be retried
// within the same queue round or against the next ranked provider.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrTransport)
}

// IsAuthoritative reports a non-retryable 4xx-class rejection: the
// dispatcher should move to the next provider without counting a retry.
func IsAuthoritative(err error) bool {
	return err != nil && (errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidInput))
}
