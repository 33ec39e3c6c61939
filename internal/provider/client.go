// Package provider implements the Provider Client (C1): a uniform
// query(LLMRequest) -> LLMResponse boundary around each upstream LLM SDK.
package provider

import (
	"context"

	"github.com/mentat-sh/mentat/internal/contract"
)

// Client is the interface every concrete provider (anthropic, openai,
// ollama, gemini, zai) implements. Each instance carries a unique
// InstanceID and must not share mutable per-call state across concurrent
// Query calls (spec §4.1 isolation requirement).
type Client interface {
	// Query translates req into the provider's wire form, issues the
	// request, and normalizes the result back into an LLMResponse. If the
	// provider response omits token usage, Query estimates it via the
	// supplied Estimator rather than leaving TokenUsage zeroed.
	Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error)

	// Name is the provider family, e.g. "anthropic", "openai", "ollama",
	// "gemini", "zai".
	Name() string

	// Type names the wire format: openai, zai and ollama all speak the
	// OpenAI chat-completions format and report "openai-compatible";
	// Name tells them apart.
	Type() string

	// InstanceID is the ULID assigned at construction time; it is attached
	// to every Health Monitor record this client emits.
	InstanceID() string

	// Health issues a minimal probe used by the dispatcher's background
	// health-check task.
	Health(ctx context.Context) error
}

// Estimator estimates token counts when a provider response doesn't report
// usage. Implemented by internal/tokenopt; declared here to avoid a cyclic
// import back into that package.
type Estimator interface {
	Estimate(model, text string) int
}

// HealthRecord is the per-call record every Client emits to the Health
// Monitor's publish/subscribe bus (spec §4.1 side effect).
type HealthRecord struct {
	InstanceID string
	Provider   string
	LatencyMs  int64
	TokenUsage contract.TokenUsage
	ErrorClass string
}

// Reporter receives HealthRecords; satisfied by internal/health.Monitor.
type Reporter interface {
	ReportQuery(rec HealthRecord)
}
