// Package anthropic adapts anthropic-sdk-go to the provider.Client contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/provider"
)

type Client struct {
	provider.Base
	client anthropic.Client
}

// New builds an anthropic client. An empty apiKey falls back to
// ANTHROPIC_API_KEY, matching the teacher's default-from-env convention.
func New(apiKey string, estimator provider.Estimator, reporter provider.Reporter) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Client{
		Base:   provider.NewBase("anthropic", "anthropic", estimator, reporter),
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (c *Client) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	start := time.Now()

	var messages []anthropic.MessageParam
	for _, m := range req.ResolvedMessages() {
		switch m.Role {
		case "system":
			continue // sent via System field below
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case "tool":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	var tools []anthropic.ToolUnionParam
	for _, t := range req.Tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]interface{}{}},
		}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"].(map[string]interface{}); ok {
				tool.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}

	modelName := req.Model
	if modelName == "" {
		modelName = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     tools,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		mapped := c.MapErr(err)
		c.ReportRecord(provider.HealthRecord{LatencyMs: latency, ErrorClass: c.ErrClass(err)})
		return nil, fmt.Errorf("anthropic: %w", mapped)
	}

	resp := &contract.LLMResponse{Model: modelName, LatencyMs: latency}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ToolUseBlock:
			inputJSON, _ := json.Marshal(b.Input)
			resp.ToolCalls = append(resp.ToolCalls, &contract.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: string(inputJSON),
			})
		}
	}

	if msg.Usage.InputTokens > 0 || msg.Usage.OutputTokens > 0 {
		resp.TokenUsage = contract.NewTokenUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens))
	} else {
		p, comp := c.EstimateUsage(modelName, req.Prompt, resp.Text)
		resp.TokenUsage = contract.NewTokenUsage(p, comp)
	}

	c.ReportRecord(provider.HealthRecord{LatencyMs: latency, TokenUsage: resp.TokenUsage})
	return resp, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_7SonnetLatest,
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	return c.MapErr(err)
}
