package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/contract"
	"github.com/mentat-sh/mentat/internal/dispatch"
	"github.com/mentat-sh/mentat/internal/health"
)

// spyClient records each call's start/end timestamps and returns a
// labeled-section response so token extraction can be exercised.
type spyClient struct {
	mu     sync.Mutex
	starts []time.Time
	ends   []time.Time
	fail   map[int]bool
	calls  int
}

func (s *spyClient) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()

	start := time.Now()
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.starts = append(s.starts, start)
	s.ends = append(s.ends, time.Now())
	shouldFail := s.fail[i]
	s.mu.Unlock()

	if shouldFail {
		return nil, fmt.Errorf("stage %d induced failure", i)
	}

	text := fmt.Sprintf("analysis for stage %d\nentities: e%d\nthemes: t%d\nconclusions: c%d", i, i, i, i)
	return &contract.LLMResponse{Text: text, Model: req.Model, TokenUsage: contract.NewTokenUsage(10, 10)}, nil
}
func (s *spyClient) Name() string                    { return "spy" }
func (s *spyClient) Type() string                    { return "spy" }
func (s *spyClient) InstanceID() string              { return "spy-1" }
func (s *spyClient) Health(ctx context.Context) error { return nil }

func newTestOrchestrator(t *testing.T, client *spyClient) *Orchestrator {
	t.Helper()
	monitor := health.New()
	// A single round, so one induced failure is a failed stage rather
	// than a call the dispatcher retries.
	d := dispatch.New(monitor, dispatch.WithMaxRetries(1))
	d.Register(dispatch.NewProviderDescriptor(client, 1, 1))

	o, err := New(t.TempDir(), config.PipelineConfig{MinStageDelay: "10ms"}, d)
	require.NoError(t, err)
	return o
}

func threeStages() []Stage {
	return []Stage{
		{Index: 0, Name: "preprocess", ProviderRef: "spy"},
		{Index: 1, Name: "process", ProviderRef: "spy"},
		{Index: 2, Name: "reason", ProviderRef: "spy"},
	}
}

func TestOrchestrator_RunsStagesStrictlySequentially(t *testing.T) {
	client := &spyClient{fail: map[int]bool{}}
	o := newTestOrchestrator(t, client)

	run, err := o.Execute(context.Background(), "what should we build", threeStages())
	require.NoError(t, err)
	require.True(t, run.Success)
	require.Len(t, run.Stages, 3)

	require.Len(t, client.starts, 3)
	assert.True(t, client.starts[1].After(client.ends[0]))
	assert.True(t, client.starts[2].After(client.ends[1]))

	assert.Equal(t, []int{0, 1, 2}, run.Token.CompletedStages)
	assert.True(t, strings.HasPrefix(run.FinalOutput(), "STAGE 3 ANALYSIS:"))
}

func TestOrchestrator_TokenAccumulatesMonotonically(t *testing.T) {
	client := &spyClient{fail: map[int]bool{}}
	o := newTestOrchestrator(t, client)

	run, err := o.Execute(context.Background(), "query", threeStages())
	require.NoError(t, err)

	assert.Contains(t, run.Token.Entities, "e0")
	assert.Contains(t, run.Token.Entities, "e1")
	assert.Contains(t, run.Token.Entities, "e2")
	assert.Equal(t, PhaseReasoning, run.Token.Phase)
}

func TestOrchestrator_AbortsOnStageFailurePreservingIntermediates(t *testing.T) {
	client := &spyClient{fail: map[int]bool{1: true}}
	o := newTestOrchestrator(t, client)

	run, err := o.Execute(context.Background(), "query", threeStages())
	require.Error(t, err)
	assert.False(t, run.Success)
	assert.Len(t, run.Stages, 1)
	assert.NotEmpty(t, run.ErrorClass)
}

func TestEnsureMarker_PrependsWhenAbsent(t *testing.T) {
	assert.Equal(t, "STAGE 1 ANALYSIS: hello", ensureMarker(0, "hello"))
}

func TestEnsureMarker_LeavesExistingMarkerUntouched(t *testing.T) {
	out := ensureMarker(0, "STAGE 1 ANALYSIS: hello")
	assert.Equal(t, "STAGE 1 ANALYSIS: hello", out)
}

func TestToken_AbsorbAdvancesPhasePerStage(t *testing.T) {
	tok := newToken("q")
	tok.absorb(0, 3, "entities: a, b")
	assert.Equal(t, PhaseProcessing, tok.Phase)
	assert.Equal(t, []string{"a", "b"}, tok.Entities)

	tok.absorb(1, 3, "themes: x")
	assert.Equal(t, PhaseReasoning, tok.Phase)

	tok.absorb(2, 3, "conclusions: done")
	assert.Equal(t, []int{0, 1, 2}, tok.CompletedStages)
}
