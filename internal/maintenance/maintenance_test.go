package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/memory"
	"github.com/mentat-sh/mentat/internal/tokenopt"
)

func newTestRunner(t *testing.T, cfg config.DaemonConfig) *Runner {
	t.Helper()
	dir := t.TempDir()

	c, err := cache.New(dir, config.CacheConfig{}, nil)
	require.NoError(t, err)

	m, err := memory.New(dir, config.MemoryConfig{}, nil)
	require.NoError(t, err)

	o, err := tokenopt.New(dir, config.TokenOptimizerConfig{
		EncodingName: "cl100k_base",
		Tiers:        []config.TokenOptimizerTier{{Name: "cheap", MaxTokens: 4000, Model: "cheap-model"}},
	})
	require.NoError(t, err)

	r, err := New(cfg, c, m, o)
	require.NoError(t, err)
	return r
}

func TestRunner_SweepsOnFixedInterval(t *testing.T) {
	r := newTestRunner(t, config.DaemonConfig{MaintenanceInterval: "10ms"})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	time.Sleep(35 * time.Millisecond)
	cancel()

	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_AcceptsCronSchedule(t *testing.T) {
	r := newTestRunner(t, config.DaemonConfig{MaintenanceCron: "*/1 * * * *"})
	require.NotNil(t, r.schedule)

	next := r.nextDelay()
	require.Greater(t, next, time.Duration(0))
	require.LessOrEqual(t, next, time.Minute+time.Second)
}

func TestRunner_RejectsInvalidCronExpression(t *testing.T) {
	dir := t.TempDir()
	c, err := cache.New(dir, config.CacheConfig{}, nil)
	require.NoError(t, err)
	m, err := memory.New(dir, config.MemoryConfig{}, nil)
	require.NoError(t, err)
	o, err := tokenopt.New(dir, config.TokenOptimizerConfig{EncodingName: "cl100k_base"})
	require.NoError(t, err)

	_, err = New(config.DaemonConfig{MaintenanceCron: "not a cron expr"}, c, m, o)
	require.Error(t, err)
}

func TestRunner_StopIsIdempotentWithoutStart(t *testing.T) {
	r := newTestRunner(t, config.DaemonConfig{MaintenanceInterval: "1s"})
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}
