// Package contract defines the provider-agnostic request/response shapes
// every ProviderClient (C1) translates to and from its own wire format.
package contract

import "time"

// Message is one turn of a chat-shaped conversation.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
}

// ToolDef describes a callable tool a provider may invoke.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is a provider-issued invocation of a ToolDef.
type ToolCall struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// LLMRequest is the uniform request shape for a single completion. Exactly
// one of Prompt or Messages is authoritative (spec §3): if Messages is
// non-empty it wins; otherwise Prompt is wrapped into a single user message.
// If SystemPrompt is set it becomes the first message with role "system".
type LLMRequest struct {
	Prompt       string    `json:"prompt,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model"`
	Temperature  float64   `json:"temperature,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Tools        []ToolDef `json:"tools,omitempty"`
}

// ResolvedMessages applies the Prompt/Messages/SystemPrompt authority rule
// and returns the message list a provider client should actually send.
func (r LLMRequest) ResolvedMessages() []Message {
	msgs := r.Messages
	if len(msgs) == 0 && r.Prompt != "" {
		msgs = []Message{{Role: "user", Content: r.Prompt}}
	}
	if r.SystemPrompt != "" {
		sys := Message{Role: "system", Content: r.SystemPrompt}
		out := make([]Message, 0, len(msgs)+1)
		out = append(out, sys)
		out = append(out, msgs...)
		return out
	}
	return msgs
}

// TokenUsage must satisfy Total == Prompt + Completion (spec invariant 3).
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// NewTokenUsage builds a usage record that satisfies the Total invariant.
func NewTokenUsage(prompt, completion int) TokenUsage {
	return TokenUsage{Prompt: prompt, Completion: completion, Total: prompt + completion}
}

// LLMResponse is the uniform response shape returned by every provider.
type LLMResponse struct {
	Text       string      `json:"text"`
	Model      string      `json:"model"`
	TokenUsage TokenUsage  `json:"token_usage"`
	LatencyMs  int64       `json:"latency_ms"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
}

// CompletionRequest/CompletionResponse are the legacy teacher names kept as
// thin aliases so provider adapters translating to/from SDK types read the
// same as the teacher's; mentat code outside the provider package uses
// LLMRequest/LLMResponse.
type CompletionRequest = LLMRequest
type CompletionResponse struct {
	Content   string      `json:"content"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
}

// Since returns the milliseconds elapsed since start, a convenience for
// providers that report latency from a start time.
func Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
