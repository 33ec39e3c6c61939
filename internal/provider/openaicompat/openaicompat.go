// Package openaicompat adapts sashabaranov/go-openai to the provider.Client
// contract. It backs three of mentat's five provider families -- openai,
// ollama, and zai -- which all speak the OpenAI chat-completions wire
// format and differ only in base URL, default model, and credential source.
package openaicompat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/provider"
)

// Config selects the OpenAI-compatible variant.
type Config struct {
	// Name is the provider family reported to the dispatcher/health
	// monitor: "openai", "ollama", or "zai".
	Name string
	// APIKeyEnv is consulted when APIKey is empty.
	APIKeyEnv string
	APIKey    string
	// BaseURL overrides the default OpenAI endpoint. Required for ollama
	// (local daemon) and zai (GLM endpoint); empty keeps go-openai's
	// default for plain openai.
	BaseURL string
	// DefaultModel is used when a request omits Model.
	DefaultModel string
}

type Client struct {
	provider.Base
	client *openai.Client
	cfg    Config
}

func New(cfg Config, estimator provider.Estimator, reporter provider.Reporter) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	oaCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		Base:   provider.NewBase(cfg.Name, "openai-compatible", estimator, reporter),
		client: openai.NewClientWithConfig(oaCfg),
		cfg:    cfg,
	}
}

func (c *Client) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	for _, m := range req.ResolvedMessages() {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			tcs := make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				tcs[i] = openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Input},
				}
			}
			msg.ToolCalls = tcs
		}
		messages = append(messages, msg)
	}

	var tools []openai.Tool
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		tools = append(tools, openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}

	chatReq := openai.ChatCompletionRequest{Model: model, Messages: messages, Tools: tools}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		mapped := c.MapErr(err)
		c.ReportRecord(provider.HealthRecord{LatencyMs: latency, ErrorClass: c.ErrClass(err)})
		return nil, fmt.Errorf("%s: %w", c.Name(), mapped)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%s: no choices returned", c.Name())
		c.ReportRecord(provider.HealthRecord{LatencyMs: latency, ErrorClass: "content"})
		return nil, err
	}

	choice := resp.Choices[0]
	out := &contract.LLMResponse{Text: choice.Message.Content, Model: model, LatencyMs: latency}

	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		out.ToolCalls = append(out.ToolCalls, &contract.ToolCall{ID: id, Name: tc.Function.Name, Input: tc.Function.Arguments})
	}

	if resp.Usage.TotalTokens > 0 {
		out.TokenUsage = contract.NewTokenUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	} else {
		p, comp := c.EstimateUsage(model, req.Prompt, out.Text)
		out.TokenUsage = contract.NewTokenUsage(p, comp)
	}

	c.ReportRecord(provider.HealthRecord{LatencyMs: latency, TokenUsage: out.TokenUsage})
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.DefaultModel,
		Messages:  []openai.ChatCompletionMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return c.MapErr(err)
}
