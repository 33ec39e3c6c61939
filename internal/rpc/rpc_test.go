package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	"github.com/mentat-sh/mentat/internal/health"
	"github.com/mentat-sh/mentat/internal/memory"
	"github.com/mentat-sh/mentat/internal/thinking"
	"github.com/mentat-sh/mentat/internal/tokenopt"
)

type staticClient struct{}

func (staticClient) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	return &contract.LLMResponse{Text: "final answer: ok", Model: req.Model, TokenUsage: contract.NewTokenUsage(3, 3)}, nil
}
func (staticClient) Name() string                    { return "static" }
func (staticClient) Type() string                    { return "static" }
func (staticClient) InstanceID() string              { return "s1" }
func (staticClient) Health(ctx context.Context) error { return nil }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	dir := t.TempDir()

	c, err := cache.New(dir, config.CacheConfig{}, nil)
	require.NoError(t, err)

	store, err := memory.New(dir, config.MemoryConfig{}, nil)
	require.NoError(t, err)

	opt, err := tokenopt.New(dir, config.TokenOptimizerConfig{
		EncodingName: "cl100k_base",
		Tiers:        []config.TokenOptimizerTier{{Name: "cheap", MaxTokens: 4000, Model: "cheap-model"}},
	})
	require.NoError(t, err)

	monitor := health.New()
	d := dispatch.New(monitor)
	d.Register(dispatch.NewProviderDescriptor(staticClient{}, 1, 1))

	eng := thinking.New(dir, config.ThinkingConfig{MaxSteps: 3, DefaultStrategy: "chain_of_thought"}, c, d)

	return &Handlers{
		Thinking:   eng,
		Dispatcher: d,
		Memory:     store,
		Cache:      c,
		Optimizer:  opt,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer()
	newTestHandlers(t).Register(srv)
	return srv
}

func TestHandlers_ToolsListReturnsAllRequiredTools(t *testing.T) {
	h := newTestHandlers(t)
	srv := NewServer()
	h.Register(srv)

	result, err := h.toolsList(context.Background(), nil)
	require.NoError(t, err)

	list := result.(map[string]interface{})["tools"].([]ToolDescriptor)
	names := make(map[string]bool)
	for _, td := range list {
		names[td.Name] = true
	}
	for _, required := range []string{
		"thinking_process", "generate_with_mcp", "store_memory", "retrieve_memory",
		"check_cache", "store_cache", "perform_maintenance", "estimate_token_count",
		"update_token_metrics", "get_token_optimization_stats",
	} {
		assert.True(t, names[required], "missing tool %s", required)
	}
}

func TestHandlers_ToolsCallUnknownToolReturnsInvalidParams(t *testing.T) {
	h := newTestHandlers(t)
	_, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "not_a_tool"}))
	require.Error(t, err)
	assert.Equal(t, CodeInvalidParams, toRPCError(err).Code)
}

func TestHandlers_StoreThenRetrieveMemoryRoundTrips(t *testing.T) {
	h := newTestHandlers(t)

	storeArgs := mustJSON(t, map[string]interface{}{"type": "semantic", "content": "mentat coordinates providers", "importance": 0.8})
	_, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "store_memory", Arguments: storeArgs}))
	require.NoError(t, err)

	retrieveArgs := mustJSON(t, map[string]interface{}{"query": "coordinates providers", "limit": 5})
	result, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "retrieve_memory", Arguments: retrieveArgs}))
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestHandlers_StoreThenCheckCacheRoundTrips(t *testing.T) {
	h := newTestHandlers(t)

	storeArgs := mustJSON(t, map[string]interface{}{"type": "generation", "key": "k1", "value": map[string]string{"a": "b"}})
	_, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "store_cache", Arguments: storeArgs}))
	require.NoError(t, err)

	checkArgs := mustJSON(t, map[string]interface{}{"type": "generation", "key": "k1"})
	result, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "check_cache", Arguments: checkArgs}))
	require.NoError(t, err)
	res := result.(ToolCallResult)
	assert.Contains(t, res.Content[0].Text, "true")
}

func TestHandlers_ThinkingProcessRunsToCompletion(t *testing.T) {
	h := newTestHandlers(t)

	args := mustJSON(t, map[string]interface{}{"problem": "what should we build next"})
	result, err := h.toolsCall(context.Background(), mustJSON(t, toolCallParams{Name: "thinking_process", Arguments: args}))
	require.NoError(t, err)
	res := result.(ToolCallResult)
	assert.Contains(t, res.Content[0].Text, "completed")
}

func TestServer_DispatchesTooolsListOverStdioLines(t *testing.T) {
	srv := newTestServer(t)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	err := srv.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestServer_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv := newTestServer(t)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"bogus/method"}` + "\n")
	var out bytes.Buffer

	err := srv.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServer_MalformedLineReturnsParseError(t *testing.T) {
	srv := newTestServer(t)

	in := strings.NewReader(`not json` + "\n")
	var out bytes.Buffer

	err := srv.Serve(context.Background(), in, &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
