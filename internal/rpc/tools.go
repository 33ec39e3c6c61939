package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/memory"
	"github.com/mentat-sh/mentat/internal/thinking"
	"github.com/mentat-sh/mentat/internal/tokenopt"
)

// ToolDescriptor is the wire shape tools/list returns (spec.md §6.1),
// renamed from the teacher's tool.ToolDescriptor{Definition,Metadata}
// shape to the spec's flat {name, description, inputSchema} fields.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Handlers wires every required tool (spec.md §6.1) to its owning
// component.
type Handlers struct {
	Thinking      *thinking.Engine
	Dispatcher    *dispatch.Dispatcher
	Memory        *memory.Store
	Cache         *cache.Cache
	Optimizer     *tokenopt.Optimizer
	ThinkingModels []config.ThinkingModelEntry
	Strategies     []string

	descriptors []ToolDescriptor
}

// Register wires every required tool/resource method onto srv.
func (h *Handlers) Register(srv *Server) {
	h.descriptors = h.buildDescriptors()

	srv.Handle("tools/list", h.toolsList)
	srv.Handle("tools/call", h.toolsCall)
	srv.Handle("resources/list", h.resourcesList)
	srv.Handle("resources/templates/list", h.resourceTemplatesList)
	srv.Handle("resources/read", h.resourcesRead)
}

func (h *Handlers) buildDescriptors() []ToolDescriptor {
	return []ToolDescriptor{
		{Name: "thinking_process", Description: "Run a multi-step reasoning process over a problem.", InputSchema: schema(map[string]string{
			"problem": "string!", "thinking_model": "string", "include_visualization": "bool", "optimize_tokens": "bool",
		})},
		{Name: "generate_with_mcp", Description: "Generate a single completion through the fallback dispatcher.", InputSchema: schema(map[string]string{
			"prompt": "string!", "model": "string", "max_tokens": "int", "optimize_tokens": "bool",
		})},
		{Name: "store_memory", Description: "Store a typed memory item.", InputSchema: schema(map[string]string{
			"type": "string!", "content": "string!", "importance": "number", "connections": "array",
		})},
		{Name: "retrieve_memory", Description: "Retrieve memory items by hybrid vector+lexical similarity.", InputSchema: schema(map[string]string{
			"query": "string!", "limit": "int",
		})},
		{Name: "check_cache", Description: "Read a cache entry.", InputSchema: schema(map[string]string{
			"type": "string!", "key": "string!",
		})},
		{Name: "store_cache", Description: "Write a cache entry.", InputSchema: schema(map[string]string{
			"type": "string!", "key": "string!", "value": "any!", "ttl_seconds": "int",
		})},
		{Name: "perform_maintenance", Description: "Run janitorial maintenance over one or more subsystems.", InputSchema: schema(map[string]string{
			"systems": "array!",
		})},
		{Name: "estimate_token_count", Description: "Estimate a prompt's token count for a model.", InputSchema: schema(map[string]string{
			"model": "string!", "text": "string!",
		})},
		{Name: "update_token_metrics", Description: "Record an estimate-vs-actual token count sample.", InputSchema: schema(map[string]string{
			"problem_id": "string!", "estimated": "int!", "actual": "int!", "model": "string!",
		})},
		{Name: "get_token_optimization_stats", Description: "Return mean absolute token estimation error per model.", InputSchema: schema(nil)},
	}
}

func schema(fields map[string]string) map[string]interface{} {
	props := map[string]interface{}{}
	var required []string
	for name, kind := range fields {
		typ := kind
		if len(kind) > 0 && kind[len(kind)-1] == '!' {
			typ = kind[:len(kind)-1]
			required = append(required, name)
		}
		props[name] = map[string]interface{}{"type": jsonSchemaType(typ)}
	}
	out := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func jsonSchemaType(t string) string {
	switch t {
	case "bool":
		return "boolean"
	case "int", "number":
		return "number"
	case "array":
		return "array"
	case "any":
		return "object"
	default:
		return "string"
	}
}

func (h *Handlers) toolsList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"tools": h.descriptors}, nil
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handlers) toolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var call toolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, mentaterrors.InvalidInput("malformed tools/call params: " + err.Error())
	}

	fn, ok := toolFuncs[call.Name]
	if !ok {
		return nil, mentaterrors.InvalidInput(fmt.Sprintf("unknown tool %q", call.Name))
	}

	result, err := fn(h, ctx, call.Arguments)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, mentaterrors.Internal("marshal tool result: " + err.Error())
	}
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: string(text)}}}, nil
}

type toolFunc func(h *Handlers, ctx context.Context, args json.RawMessage) (interface{}, error)

var toolFuncs = map[string]toolFunc{
	"thinking_process":             (*Handlers).thinkingProcess,
	"generate_with_mcp":            (*Handlers).generateWithMCP,
	"store_memory":                 (*Handlers).storeMemory,
	"retrieve_memory":              (*Handlers).retrieveMemory,
	"check_cache":                  (*Handlers).checkCache,
	"store_cache":                  (*Handlers).storeCache,
	"perform_maintenance":          (*Handlers).performMaintenance,
	"estimate_token_count":         (*Handlers).estimateTokenCount,
	"update_token_metrics":         (*Handlers).updateTokenMetrics,
	"get_token_optimization_stats": (*Handlers).getTokenOptimizationStats,
}

func (h *Handlers) thinkingProcess(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Problem              string `json:"problem"`
		ThinkingModel        string `json:"thinking_model"`
		IncludeVisualization bool   `json:"include_visualization"`
		OptimizeTokens       bool   `json:"optimize_tokens"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed thinking_process arguments: " + err.Error())
	}
	if in.Problem == "" {
		return nil, mentaterrors.InvalidInput("thinking_process requires a non-empty problem")
	}

	opts := thinking.Options{}
	if in.OptimizeTokens && h.Optimizer != nil {
		result := h.Optimizer.Optimize(in.Problem, tokenopt.Hints{PreferredModel: in.ThinkingModel})
		opts.DispatchModel = result.SelectedModel
	}

	proc, err := h.Thinking.Process(ctx, in.Problem, in.ThinkingModel, opts)
	if proc != nil && !in.IncludeVisualization {
		proc.Visualization = nil
	}
	if err != nil {
		return proc, err
	}
	return proc, nil
}

func (h *Handlers) generateWithMCP(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Prompt         string `json:"prompt"`
		Model          string `json:"model"`
		MaxTokens      int    `json:"max_tokens"`
		OptimizeTokens bool   `json:"optimize_tokens"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed generate_with_mcp arguments: " + err.Error())
	}
	if in.Prompt == "" {
		return nil, mentaterrors.InvalidInput("generate_with_mcp requires a non-empty prompt")
	}

	model := in.Model
	var optimization *tokenopt.Result
	if in.OptimizeTokens && h.Optimizer != nil {
		result := h.Optimizer.Optimize(in.Prompt, tokenopt.Hints{PreferredModel: in.Model, MaxBudget: in.MaxTokens})
		model = result.SelectedModel
		optimization = &result
	}

	resp, err := h.Dispatcher.Query(ctx, contract.LLMRequest{Prompt: in.Prompt, Model: model, MaxTokens: in.MaxTokens})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"response": resp, "optimization": optimization}, nil
}

func (h *Handlers) storeMemory(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Type        string   `json:"type"`
		Content     string   `json:"content"`
		Importance  float64  `json:"importance"`
		Connections []string `json:"connections"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed store_memory arguments: " + err.Error())
	}
	if in.Type == "" || in.Content == "" {
		return nil, mentaterrors.InvalidInput("store_memory requires type and content")
	}

	id, err := h.Memory.Store(memory.Item{
		Type:        memory.ItemType(in.Type),
		Content:     in.Content,
		Importance:  in.Importance,
		Connections: in.Connections,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

func (h *Handlers) retrieveMemory(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed retrieve_memory arguments: " + err.Error())
	}
	if in.Query == "" {
		return nil, mentaterrors.InvalidInput("retrieve_memory requires a non-empty query")
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}
	return h.Memory.Retrieve(ctx, in.Query, in.Limit)
}

func (h *Handlers) checkCache(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed check_cache arguments: " + err.Error())
	}
	var value json.RawMessage
	hit, err := h.Cache.Get(in.Type, in.Key, &value)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"hit": hit, "value": value}, nil
}

func (h *Handlers) storeCache(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Type       string          `json:"type"`
		Key        string          `json:"key"`
		Value      json.RawMessage `json:"value"`
		TTLSeconds int             `json:"ttl_seconds"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed store_cache arguments: " + err.Error())
	}
	if in.Type == "" || in.Key == "" {
		return nil, mentaterrors.InvalidInput("store_cache requires type and key")
	}
	ttl := time.Duration(in.TTLSeconds) * time.Second
	if err := h.Cache.Set(in.Type, in.Key, in.Value, ttl); err != nil {
		return nil, err
	}
	return map[string]bool{"stored": true}, nil
}

func (h *Handlers) performMaintenance(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Systems []string `json:"systems"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed perform_maintenance arguments: " + err.Error())
	}
	if len(in.Systems) == 0 {
		return nil, mentaterrors.InvalidInput("perform_maintenance requires a non-empty systems list")
	}

	out := map[string]int{}
	for _, sys := range expandSystems(in.Systems) {
		switch sys {
		case "cache":
			n, err := h.Cache.Maintenance()
			if err != nil {
				return nil, err
			}
			out["cache"] = n
		case "memory":
			if err := h.Memory.Maintenance(); err != nil {
				return nil, err
			}
			out["memory"] = 0
		case "optimization":
			h.Optimizer.Maintenance()
			out["optimization"] = 0
		case "thinking":
			out["thinking"] = 0
		}
	}
	return out, nil
}

func expandSystems(systems []string) []string {
	for _, s := range systems {
		if s == "all" {
			return []string{"cache", "memory", "thinking", "optimization"}
		}
	}
	return systems
}

func (h *Handlers) estimateTokenCount(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		Model string `json:"model"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed estimate_token_count arguments: " + err.Error())
	}
	return map[string]int{"tokens": h.Optimizer.Estimate(in.Model, in.Text)}, nil
}

func (h *Handlers) updateTokenMetrics(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var in struct {
		ProblemID string `json:"problem_id"`
		Estimated int    `json:"estimated"`
		Actual    int    `json:"actual"`
		Model     string `json:"model"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed update_token_metrics arguments: " + err.Error())
	}
	if err := h.Optimizer.RecordActual(in.ProblemID, in.Estimated, in.Actual, in.Model); err != nil {
		return nil, err
	}
	return map[string]bool{"recorded": true}, nil
}

func (h *Handlers) getTokenOptimizationStats(ctx context.Context, args json.RawMessage) (interface{}, error) {
	return h.Optimizer.Stats(), nil
}
