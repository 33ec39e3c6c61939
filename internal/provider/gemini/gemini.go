// Package gemini adapts google.golang.org/genai to the provider.Client contract.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"google.golang.org/genai"

	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/provider"
)

const defaultModel = "gemini-2.0-flash"

type Client struct {
	provider.Base
	client *genai.Client
}

func New(ctx context.Context, apiKey string, estimator provider.Estimator, reporter provider.Reporter) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &Client{
		Base:   provider.NewBase("gemini", "gemini", estimator, reporter),
		client: client,
	}, nil
}

func (c *Client) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	var contents []*genai.Content
	for _, m := range req.ResolvedMessages() {
		switch m.Role {
		case "system":
			continue
		case "tool":
			var obj map[string]any
			_ = json.Unmarshal([]byte(m.Content), &obj)
			contents = append(contents, &genai.Content{Role: "function", Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: m.ToolCallID, Name: m.ToolCallID, Response: obj}}}})
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	var tools []*genai.Tool
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			b, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			_ = json.Unmarshal(b, &schema)
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: &schema})
		}
		tools = append(tools, &genai.Tool{FunctionDeclarations: decls})
	}

	cfg := &genai.GenerateContentConfig{Tools: tools}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		mapped := c.MapErr(err)
		c.ReportRecord(provider.HealthRecord{LatencyMs: latency, ErrorClass: c.ErrClass(err)})
		return nil, fmt.Errorf("gemini: %w", mapped)
	}

	out := &contract.LLMResponse{Model: model, LatencyMs: latency}
	if resp == nil {
		c.ReportRecord(provider.HealthRecord{LatencyMs: latency})
		return out, nil
	}

	for _, fc := range resp.FunctionCalls() {
		argsJSON, _ := json.Marshal(fc.Args)
		id := fc.ID
		if id == "" {
			id = fc.Name
		}
		out.ToolCalls = append(out.ToolCalls, &contract.ToolCall{ID: id, Name: fc.Name, Input: string(argsJSON)})
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out.Text += part.Text
			}
		}
	}

	if resp.UsageMetadata != nil && (resp.UsageMetadata.PromptTokenCount > 0 || resp.UsageMetadata.CandidatesTokenCount > 0) {
		out.TokenUsage = contract.NewTokenUsage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	} else {
		p, comp := c.EstimateUsage(model, req.Prompt, out.Text)
		out.TokenUsage = contract.NewTokenUsage(p, comp)
	}

	c.ReportRecord(provider.HealthRecord{LatencyMs: latency, TokenUsage: out.TokenUsage})
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.client.Models.GenerateContent(ctx, defaultModel, []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: "ping"}}}}, nil)
	return c.MapErr(err)
}
