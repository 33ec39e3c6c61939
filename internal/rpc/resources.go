package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/memory"
)

// ResourceDescriptor describes one readable mcp:// resource or URI
// template (spec.md §6.1).
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var staticResources = []ResourceDescriptor{
	{URI: "mcp://config/thinking-models", Name: "thinking-models", Description: "Configured thinking model tiers."},
	{URI: "mcp://config/reasoning-systems", Name: "reasoning-systems", Description: "Registered thinking strategies."},
	{URI: "mcp://memory/stats", Name: "memory-stats", Description: "Memory store item counts by type."},
	{URI: "mcp://cache/stats", Name: "cache-stats", Description: "Cache hit/miss/size statistics."},
}

var resourceTemplates = []ResourceDescriptor{
	{URI: "mcp://memory/{type}", Name: "memory-by-type", Description: "Memory items of one ItemType."},
	{URI: "mcp://memory/item/{id}", Name: "memory-item", Description: "A single memory item by id."},
	{URI: "mcp://cache/stats/{type}", Name: "cache-stats-by-type", Description: "Cache statistics narrowed to one entry type."},
}

func (h *Handlers) resourcesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"resources": staticResources}, nil
}

func (h *Handlers) resourceTemplatesList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"resourceTemplates": resourceTemplates}, nil
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

// resourcesRead resolves a literal or templated mcp:// URI to its
// current value.
func (h *Handlers) resourcesRead(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var in resourceReadParams
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, mentaterrors.InvalidInput("malformed resources/read params: " + err.Error())
	}

	switch {
	case in.URI == "mcp://config/thinking-models":
		return h.ThinkingModels, nil
	case in.URI == "mcp://config/reasoning-systems":
		return h.Strategies, nil
	case in.URI == "mcp://memory/stats":
		return h.memoryStats(), nil
	case in.URI == "mcp://cache/stats":
		return h.Cache.Stats(), nil
	case strings.HasPrefix(in.URI, "mcp://cache/stats/"):
		typ := strings.TrimPrefix(in.URI, "mcp://cache/stats/")
		stats := h.Cache.Stats()
		return map[string]interface{}{"type": typ, "count": stats.PerType[typ]}, nil
	case strings.HasPrefix(in.URI, "mcp://memory/item/"):
		id := strings.TrimPrefix(in.URI, "mcp://memory/item/")
		return h.Memory.GetByID(id)
	case strings.HasPrefix(in.URI, "mcp://memory/"):
		typ := strings.TrimPrefix(in.URI, "mcp://memory/")
		return h.Memory.GetByType(memory.ItemType(typ)), nil
	default:
		return nil, mentaterrors.NotFound(fmt.Sprintf("unknown resource %q", in.URI))
	}
}

func (h *Handlers) memoryStats() map[string]int {
	counts := map[string]int{}
	for _, item := range h.Memory.GetAll() {
		counts[string(item.Type)]++
	}
	return counts
}
