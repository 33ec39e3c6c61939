// Package cache implements the Cache Layer (C4): a memory tier with LRU
// ordering backed by a gzip-compressed disk tier, per-type TTLs, and
// configurable eviction. Grounded on the teacher's internal/fsutil-style
// atomic writes and flock locking (internal/fsutil), generalized from the
// teacher's single transcript/session on-disk layout to a typed,
// TTL-bearing key/value store.
package cache

import (
	"bytes"
	"compress/gzip"
	"container/list"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mentat-sh/mentat/internal/config"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/fsutil"
	"github.com/mentat-sh/mentat/internal/health"
)

// EvictionPolicy selects which memory-tier entry to drop when the tier
// would exceed its bounds.
type EvictionPolicy string

const (
	EvictLRU       EvictionPolicy = "lru"
	EvictTTLSoonest EvictionPolicy = "ttl_soonest"
	EvictLargest   EvictionPolicy = "largest"
)

// envelope is the self-describing disk-tier file format (spec.md §4.4).
type envelope struct {
	Compressed bool      `json:"compressed"`
	Data       []byte    `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	ExpiresAt  time.Time `json:"expires_at"`
	Type       string    `json:"type"`
}

type memEntry struct {
	typ       string
	key       string
	value     json.RawMessage
	expiresAt time.Time
	sizeBytes int64
	elem      *list.Element
}

// Stats is a point-in-time snapshot of cache performance.
type Stats struct {
	Hits        int64
	Misses      int64
	EntryCount  int
	TotalBytes  int64
	PerType     map[string]int
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) MissRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Misses) / float64(total)
}

// Cache implements C4.
type Cache struct {
	baseDir          string
	evictionPolicy   EvictionPolicy
	maxEntries       int
	maxBytes         int64
	compressAboveB   int64
	ttlByType        map[string]time.Duration
	defaultTTL       time.Duration

	locker  *fsutil.KeyedLocker
	monitor *health.Monitor

	mu         sync.Mutex
	entries    map[string]*memEntry // key = type + "/" + hash
	lru        *list.List           // front = most recently used
	totalBytes int64
	hits       int64
	misses     int64
}

// New builds a Cache rooted at <dataDir>/cache, with per-type TTLs and
// limits sourced from cfg.
func New(dataDir string, cfg config.CacheConfig, monitor *health.Monitor) (*Cache, error) {
	reasoning, err := config.DurationOrDefault(cfg.TTLReasoning, config.DefaultCacheTTLReasoning)
	if err != nil {
		return nil, err
	}
	thinking, err := config.DurationOrDefault(cfg.TTLThinking, config.DefaultCacheTTLThinking)
	if err != nil {
		return nil, err
	}
	generation, err := config.DurationOrDefault(cfg.TTLGeneration, config.DefaultCacheTTLGeneration)
	if err != nil {
		return nil, err
	}
	dflt, err := config.DurationOrDefault(cfg.TTLDefault, config.DefaultCacheTTLDefault)
	if err != nil {
		return nil, err
	}

	maxEntries := cfg.MemoryMaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultCacheMemoryMaxEntries
	}
	maxBytes := cfg.MemoryMaxBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultCacheMemoryMaxBytes
	}
	compressAboveKiB := cfg.CompressAboveKiB
	if compressAboveKiB <= 0 {
		compressAboveKiB = config.DefaultCacheCompressAboveKiB
	}
	policy := EvictionPolicy(cfg.EvictionPolicy)
	if policy == "" {
		policy = EvictLRU
	}

	baseDir := filepath.Join(dataDir, "cache")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}

	return &Cache{
		baseDir:        baseDir,
		evictionPolicy: policy,
		maxEntries:     maxEntries,
		maxBytes:       maxBytes,
		compressAboveB: int64(compressAboveKiB) * 1024,
		ttlByType: map[string]time.Duration{
			"reasoning":  reasoning,
			"thinking":   thinking,
			"generation": generation,
		},
		defaultTTL: dflt,
		locker:     fsutil.NewKeyedLocker(baseDir, fsutil.LockConfig{}),
		monitor:    monitor,
		entries:    make(map[string]*memEntry),
		lru:        list.New(),
	}, nil
}

func (c *Cache) ttlFor(typ string) time.Duration {
	if d, ok := c.ttlByType[typ]; ok {
		return d
	}
	return c.defaultTTL
}

func (c *Cache) diskPath(typ, hashedKey string) string {
	return filepath.Join(c.baseDir, typ, hashedKey)
}

func (c *Cache) indexKey(typ, hashedKey string) string {
	return typ + "/" + hashedKey
}

// Get resolves key via the memory tier, falling back to the disk tier on
// miss, per spec.md §4.4's get() algorithm.
func (c *Cache) Get(typ, key string, out interface{}) (bool, error) {
	idx := c.indexKey(typ, key)

	c.mu.Lock()
	if e, ok := c.entries[idx]; ok {
		if time.Now().After(e.expiresAt) {
			c.removeLocked(e)
			c.mu.Unlock()
			c.recordMiss(typ)
			return false, nil
		}
		c.lru.MoveToFront(e.elem)
		value := e.value
		c.mu.Unlock()
		c.recordHit(typ)
		if out != nil {
			return true, json.Unmarshal(value, out)
		}
		return true, nil
	}
	c.mu.Unlock()

	env, err := c.readDisk(typ, key)
	if err != nil {
		if os.IsNotExist(err) {
			c.recordMiss(typ)
			return false, nil
		}
		c.recordMiss(typ)
		return false, err
	}
	if time.Now().After(env.ExpiresAt) {
		_ = os.Remove(c.diskPath(typ, key))
		c.recordMiss(typ)
		return false, nil
	}

	data, err := decodeEnvelope(env)
	if err != nil {
		c.recordMiss(typ)
		return false, err
	}

	c.populateMemory(typ, key, data, env.ExpiresAt)
	c.recordHit(typ)
	if out != nil {
		return true, json.Unmarshal(data, out)
	}
	return true, nil
}

// Set assigns a TTL (explicit ttl, or the per-type default), writes
// memory and disk synchronously, and evicts if the memory tier would
// exceed its bounds (spec.md §4.4's set() algorithm).
func (c *Cache) Set(typ, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttlFor(typ)
	}
	expiresAt := time.Now().Add(ttl)

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.populateMemory(typ, key, data, expiresAt)

	return c.locker.WithLock(key, func() error {
		env, err := encodeEnvelope(data, expiresAt, typ, c.compressAboveB)
		if err != nil {
			slog.Warn("cache disk write failed", "type", typ, "key", key, "error", err)
			return nil // memory entry stays; failure recorded, not propagated
		}
		path := c.diskPath(typ, key)
		if err := fsutil.WriteJSON(path, env); err != nil {
			slog.Warn("cache disk write failed", "type", typ, "key", key, "error", err)
			return nil
		}
		return nil
	})
}

func (c *Cache) populateMemory(typ, key string, data json.RawMessage, expiresAt time.Time) {
	idx := c.indexKey(typ, key)
	size := int64(len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[idx]; ok {
		c.totalBytes -= existing.sizeBytes
		existing.value = data
		existing.expiresAt = expiresAt
		existing.sizeBytes = size
		c.totalBytes += size
		c.lru.MoveToFront(existing.elem)
		return
	}

	e := &memEntry{typ: typ, key: key, value: data, expiresAt: expiresAt, sizeBytes: size}
	e.elem = c.lru.PushFront(e)
	c.entries[idx] = e
	c.totalBytes += size

	c.evictLocked()
}

// evictLocked drops entries per c.evictionPolicy until within bounds.
// Must hold c.mu.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries || c.totalBytes > c.maxBytes {
		victim := c.pickVictimLocked()
		if victim == nil {
			return
		}
		c.removeLocked(victim)
	}
}

func (c *Cache) pickVictimLocked() *memEntry {
	switch c.evictionPolicy {
	case EvictTTLSoonest:
		var victim *memEntry
		for _, e := range c.entries {
			if victim == nil || e.expiresAt.Before(victim.expiresAt) {
				victim = e
			}
		}
		return victim
	case EvictLargest:
		var victim *memEntry
		for _, e := range c.entries {
			if victim == nil || e.sizeBytes > victim.sizeBytes {
				victim = e
			}
		}
		return victim
	default: // EvictLRU
		back := c.lru.Back()
		if back == nil {
			return nil
		}
		return back.Value.(*memEntry)
	}
}

// removeLocked drops e from the memory tier. Must hold c.mu.
func (c *Cache) removeLocked(e *memEntry) {
	delete(c.entries, c.indexKey(e.typ, e.key))
	c.lru.Remove(e.elem)
	c.totalBytes -= e.sizeBytes
}

// Delete removes key from both tiers.
func (c *Cache) Delete(typ, key string) error {
	idx := c.indexKey(typ, key)
	c.mu.Lock()
	if e, ok := c.entries[idx]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()

	err := os.Remove(c.diskPath(typ, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Clear empties both tiers entirely.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]*memEntry)
	c.lru = list.New()
	c.totalBytes = 0
	c.mu.Unlock()

	return os.RemoveAll(c.baseDir)
}

// Maintenance clears the memory tier and walks the disk tier deleting
// expired or corrupt files, returning the count removed (spec.md §4.4).
func (c *Cache) Maintenance() (int, error) {
	c.mu.Lock()
	c.entries = make(map[string]*memEntry)
	c.lru = list.New()
	c.totalBytes = 0
	c.mu.Unlock()

	removed := 0
	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".lock" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = os.Remove(path)
			removed++
			return nil
		}
		if time.Now().After(env.ExpiresAt) {
			_ = os.Remove(path)
			removed++
		}
		return nil
	})
	return removed, err
}

// Stats reports hit/miss rate, entry count, total bytes, and a per-type
// entry-count breakdown for the memory tier.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	perType := make(map[string]int)
	for _, e := range c.entries {
		perType[e.typ]++
	}
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		EntryCount: len(c.entries),
		TotalBytes: c.totalBytes,
		PerType:    perType,
	}
}

func (c *Cache) recordHit(typ string) {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	if c.monitor != nil {
		c.monitor.ReportCacheAccess("cache:"+typ, true)
	}
}

func (c *Cache) recordMiss(typ string) {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if c.monitor != nil {
		c.monitor.ReportCacheAccess("cache:"+typ, false)
	}
}

func (c *Cache) readDisk(typ, key string) (envelope, error) {
	var env envelope
	data, err := os.ReadFile(c.diskPath(typ, key))
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, mentaterrors.Wrap(err, "corrupt cache entry")
	}
	return env, nil
}

func encodeEnvelope(data []byte, expiresAt time.Time, typ string, compressAboveB int64) (envelope, error) {
	env := envelope{Timestamp: time.Now(), ExpiresAt: expiresAt, Type: typ}
	if int64(len(data)) > compressAboveB {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return env, err
		}
		if err := gw.Close(); err != nil {
			return env, err
		}
		env.Compressed = true
		env.Data = buf.Bytes()
		return env, nil
	}
	env.Data = data
	return env, nil
}

func decodeEnvelope(env envelope) (json.RawMessage, error) {
	if !env.Compressed {
		return env.Data, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(env.Data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
