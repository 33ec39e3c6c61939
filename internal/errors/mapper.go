package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderErrorMapper maps a provider-native error into mentat's taxonomy
// and reports the retryable bit a ProviderClient attaches to its result
// (spec §4.1: "Errors carry a retryable bit").
type ProviderErrorMapper interface {
	MapError(providerType string, err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultProviderErrorMapper classifies by message content, since the
// provider SDKs in use (anthropic-sdk-go, go-openai, genai) each surface
// their own unexported error types rather than a shared one.
type DefaultProviderErrorMapper struct{}

func NewDefaultProviderErrorMapper() *DefaultProviderErrorMapper {
	return &DefaultProviderErrorMapper{}
}

func (m *DefaultProviderErrorMapper) MapError(providerType string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: request timed out: %w", providerType, ErrTimeout)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"), strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "forbidden"), strings.Contains(errStr, "401"), strings.Contains(errStr, "403"):
		return fmt.Errorf("%s: credential rejected: %w", providerType, ErrAuth)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "429"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("%s: rate limited: %w", providerType, ErrRateLimit)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"), strings.Contains(errStr, "context deadline"):
		return fmt.Errorf("%s: timed out: %w", providerType, ErrTimeout)

	case strings.Contains(errStr, "non-text"), strings.Contains(errStr, "html"), strings.Contains(errStr, "unexpected content type"),
		strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "invalid json"):
		return fmt.Errorf("%s: unexpected content: %w", providerType, ErrContent)

	case strings.Contains(errStr, "connection"), strings.Contains(errStr, "network"), strings.Contains(errStr, "unreachable"),
		strings.Contains(errStr, "eof"), strings.Contains(errStr, "reset by peer"), strings.Contains(errStr, "no such host"):
		return fmt.Errorf("%s: transport failure: %w", providerType, ErrTransport)

	case strings.Contains(errStr, "invalid input"), strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "400"):
		return fmt.Errorf("%s: invalid request: %w", providerType, ErrInvalidInput)

	case strings.Contains(errStr, "500"), strings.Contains(errStr, "502"), strings.Contains(errStr, "503"), strings.Contains(errStr, "504"), strings.Contains(errStr, "internal server error"):
		return fmt.Errorf("%s: server error: %w", providerType, ErrTransient)

	default:
		return fmt.Errorf("%s: %w", providerType, ErrTransport)
	}
}

func (m *DefaultProviderErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

func (m *DefaultProviderErrorMapper) Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrContent):
		return "content"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrAllProvidersFailed):
		return "all_providers_failed"
	case errors.Is(err, ErrServiceMissing):
		return "service_missing"
	default:
		return "internal"
	}
}
