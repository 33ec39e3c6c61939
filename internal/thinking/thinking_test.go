package thinking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachepkg "github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	"github.com/mentat-sh/mentat/internal/health"
)

type scriptedClient struct {
	responses []string
	calls     int
}

func (f *scriptedClient) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return &contract.LLMResponse{Text: f.responses[i], Model: req.Model, TokenUsage: contract.NewTokenUsage(5, 5)}, nil
}
func (f *scriptedClient) Name() string                      { return "scripted" }
func (f *scriptedClient) Type() string                      { return "scripted" }
func (f *scriptedClient) InstanceID() string                { return "i1" }
func (f *scriptedClient) Health(ctx context.Context) error   { return nil }

func newTestEngine(t *testing.T, responses []string) (*Engine, *scriptedClient) {
	t.Helper()

	c, err := cachepkg.New(t.TempDir(), config.CacheConfig{}, nil)
	require.NoError(t, err)

	client := &scriptedClient{responses: responses}
	monitor := health.New()
	d := dispatch.New(monitor)
	d.Register(dispatch.NewProviderDescriptor(client, 1, 1))

	e := New(t.TempDir(), config.ThinkingConfig{MaxSteps: 5, DefaultStrategy: "chain_of_thought"}, c, d)
	return e, client
}

func TestEngine_ProcessStopsOnFinalAnswerMarker(t *testing.T) {
	e, client := newTestEngine(t, []string{"still thinking", "this is my final answer"})

	proc, err := e.Process(context.Background(), "what is 2+2", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, proc.State)
	assert.Len(t, proc.Steps, 2)
	assert.Equal(t, 2, client.calls)
}

func TestEngine_ProcessEnforcesMaxSteps(t *testing.T) {
	e, _ := newTestEngine(t, []string{"still thinking"})

	proc, err := e.Process(context.Background(), "never concludes", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, proc.State)
	assert.Len(t, proc.Steps, 5)
}

func TestEngine_SecondIdenticalStepServesFromCache(t *testing.T) {
	e, client := newTestEngine(t, []string{"final answer reached"})

	_, err := e.Process(context.Background(), "same problem", "", Options{})
	require.NoError(t, err)
	firstCalls := client.calls

	_, err = e.Process(context.Background(), "same problem", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, firstCalls, client.calls)
}

func TestRegistry_UnknownModelNameFallsBackToDefault(t *testing.T) {
	r := NewRegistry("chain_of_thought")
	s := r.Resolve("not-a-real-model", "hello")
	assert.Equal(t, "chain_of_thought", s.Name())
}

func TestRegistry_AutoSelectsTreeOfThoughtsForComplexProblems(t *testing.T) {
	r := NewRegistry("chain_of_thought")
	complex := "Compare the trade-off between options:\n1. first\n2. second\n" +
		"This is a very long problem description that exceeds the length threshold by quite a margin indeed, repeated to pad it out further and further until it is long enough to register as complex under the heuristic."
	s := r.Resolve("", complex)
	assert.Equal(t, "tree_of_thoughts", s.Name())
}

func TestState_TerminalStatesAreOneShot(t *testing.T) {
	p := &Process{State: StateCompleted}
	assert.False(t, p.transition(StateRunning))
	assert.Equal(t, StateCompleted, p.State)
}
