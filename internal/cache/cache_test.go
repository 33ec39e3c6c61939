package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/config"
)

func newTestCache(t *testing.T, cfg config.CacheConfig) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), cfg, nil)
	require.NoError(t, err)
	return c
}

func TestCache_SetThenGetHitsMemoryTier(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})

	require.NoError(t, c.Set("generation", "k1", map[string]string{"v": "hello"}, 0))

	var out map[string]string
	hit, err := c.Get("generation", "k1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hello", out["v"])
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})
	hit, err := c.Get("generation", "missing", nil)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_ExpiredEntryIsEvictedOnGet(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})
	require.NoError(t, c.Set("reasoning", "k1", "v", time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	hit, err := c.Get("reasoning", "k1", nil)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_SurvivesMemoryClearViaDiskTier(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})
	require.NoError(t, c.Set("thinking", "k1", "persisted", time.Hour))

	c.mu.Lock()
	c.entries = make(map[string]*memEntry)
	c.lru.Init()
	c.mu.Unlock()

	var out string
	hit, err := c.Get("thinking", "k1", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "persisted", out)
}

func TestCache_EvictsWhenOverMaxEntries(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{MemoryMaxEntries: 2})

	require.NoError(t, c.Set("generation", "a", "1", time.Hour))
	require.NoError(t, c.Set("generation", "b", "2", time.Hour))
	require.NoError(t, c.Set("generation", "c", "3", time.Hour))

	stats := c.Stats()
	assert.LessOrEqual(t, stats.EntryCount, 2)
}

func TestCache_DeleteRemovesBothTiers(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})
	require.NoError(t, c.Set("generation", "k1", "v", time.Hour))
	require.NoError(t, c.Delete("generation", "k1"))

	hit, err := c.Get("generation", "k1", nil)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_MaintenanceRemovesExpiredDiskEntries(t *testing.T) {
	c := newTestCache(t, config.CacheConfig{})
	require.NoError(t, c.Set("generation", "k1", "v", time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	removed, err := c.Maintenance()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)
}

func TestFingerprint_DeterministicRegardlessOfKeyOrder(t *testing.T) {
	a, err := Fingerprint("", map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Fingerprint("", map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_PrefersExplicitKey(t *testing.T) {
	got, err := Fingerprint("explicit-key", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "explicit-key", got)
}
