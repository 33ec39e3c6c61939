package tokenopt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/config"
)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	o, err := New(t.TempDir(), config.TokenOptimizerConfig{
		Tiers: []config.TokenOptimizerTier{
			{Name: "cheap", MaxTokens: 10, Model: "llama3"},
			{Name: "standard", MaxTokens: 100, Model: "gpt-4-turbo"},
			{Name: "premium", MaxTokens: 10000, Model: "claude-3-7-sonnet-latest"},
		},
	})
	require.NoError(t, err)
	return o
}

func TestOptimizer_EstimateIsPositiveForNonEmptyText(t *testing.T) {
	o := newTestOptimizer(t)
	assert.Greater(t, o.Estimate("", "hello there, this is a test prompt"), 0)
}

func TestOptimizer_OptimizePicksSmallestFittingTier(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.Optimize("short", Hints{})
	assert.Equal(t, "llama3", result.SelectedModel)
}

func TestOptimizer_OptimizeEscalatesForLongerPrompts(t *testing.T) {
	o := newTestOptimizer(t)
	long := ""
	for i := 0; i < 200; i++ {
		long += "word "
	}
	result := o.Optimize(long, Hints{})
	assert.NotEqual(t, "llama3", result.SelectedModel)
}

func TestOptimizer_OptimizeHonorsPreferredModelWithinBudget(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.Optimize("short prompt", Hints{PreferredModel: "gpt-4-turbo"})
	assert.Equal(t, "gpt-4-turbo", result.SelectedModel)
}

func TestOptimizer_RecordActualAccumulatesStats(t *testing.T) {
	o := newTestOptimizer(t)
	require.NoError(t, o.RecordActual("problem-1", 10, 15, "gpt-4-turbo"))
	require.NoError(t, o.RecordActual("problem-2", 10, 5, "gpt-4-turbo"))

	stats := o.Stats()
	assert.InDelta(t, 5.0, stats["gpt-4-turbo"], 0.01)
}

func TestOptimizer_MaintenanceCompactsHistory(t *testing.T) {
	o := newTestOptimizer(t)
	require.NoError(t, o.RecordActual("problem-1", 10, 20, "gpt-4-turbo"))
	o.Maintenance()

	assert.Len(t, o.history, 1)
}
