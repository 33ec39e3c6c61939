// Package memory implements the Memory Store (C5): typed items with
// connections and vector companions, hybrid semantic+lexical retrieval,
// and chromem-go-backed vector search. Persistence is grounded on the
// teacher's internal/store.Worker (master session index + per-session
// files via natefinch/atomic, chromem.NewPersistentDB for vectors); here
// generalized from sessions to typed memory items.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"

	"github.com/mentat-sh/mentat/internal/config"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/fsutil"
)

const collectionName = "memory_items"

// Store implements C5's operations.
type Store struct {
	baseDir  string
	embedder Embedder

	semanticWeight float64
	lexicalWeight  float64

	locker *fsutil.KeyedLocker
	db     *chromem.DB

	mu    sync.RWMutex
	items map[string]Item
}

// New opens (or creates) a Store rooted at <dataDir>/memory.
func New(dataDir string, cfg config.MemoryConfig, embedder Embedder) (*Store, error) {
	baseDir := filepath.Join(dataDir, "memory")
	for _, d := range []string{baseDir, filepath.Join(baseDir, "items"), filepath.Join(baseDir, "vectors")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}

	if embedder == nil {
		embedder = NewDefaultEmbedder(cfg.VectorDims)
	}
	semanticWeight := cfg.SemanticWeight
	if semanticWeight <= 0 {
		semanticWeight = semanticWeightDefault
	}
	lexicalWeight := cfg.LexicalWeight
	if lexicalWeight <= 0 {
		lexicalWeight = lexicalWeightDefault
	}

	db, err := chromem.NewPersistentDB(filepath.Join(baseDir, "vectordb"), false)
	if err != nil {
		return nil, fmt.Errorf("init memory vector db: %w", err)
	}

	s := &Store{
		baseDir:        baseDir,
		embedder:       embedder,
		semanticWeight: semanticWeight,
		lexicalWeight:  lexicalWeight,
		locker:         fsutil.NewKeyedLocker(baseDir, fsutil.LockConfig{}),
		db:             db,
		items:          make(map[string]Item),
	}

	if err := s.loadMaster(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) masterPath() string { return filepath.Join(s.baseDir, "items.json") }
func (s *Store) itemPath(id string) string {
	return filepath.Join(s.baseDir, "items", id+".json")
}
func (s *Store) vectorPath(id string) string {
	return filepath.Join(s.baseDir, "vectors", id+".json")
}

func (s *Store) loadMaster() error {
	var list []Item
	if err := fsutil.ReadJSON(s.masterPath(), &list); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	for _, item := range list {
		s.items[item.ID] = item
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) persistMaster() error {
	s.mu.RLock()
	list := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		list = append(list, item)
	}
	s.mu.RUnlock()
	return fsutil.WriteJSON(s.masterPath(), list)
}

// Store assigns a fresh id and createdTs, computes the item's vector,
// and persists both (spec.md §4.5).
func (s *Store) Store(item Item) (string, error) {
	item.ID = ulid.Make().String()
	item.CreatedTs = time.Now()
	if item.Connections == nil {
		item.Connections = []string{}
	}

	vector, err := s.embedder.Embed(item.Content)
	if err != nil {
		return "", fmt.Errorf("embed item: %w", err)
	}

	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()

	if err := s.locker.WithLock(item.ID, func() error {
		if err := fsutil.WriteJSON(s.itemPath(item.ID), item); err != nil {
			return err
		}
		return fsutil.WriteJSON(s.vectorPath(item.ID), vector)
	}); err != nil {
		return "", err
	}
	if err := s.persistMaster(); err != nil {
		return "", err
	}

	col, err := s.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return "", err
	}
	if err := col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        item.ID,
			Embedding: vector,
			Content:   item.Content,
			Metadata:  map[string]string{"type": string(item.Type)},
		},
	}, 1); err != nil {
		return "", err
	}

	return item.ID, nil
}

// GetByID returns nil, nil if id is unknown.
func (s *Store) GetByID(id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *Store) GetAll() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out
}

func (s *Store) GetByType(typ ItemType) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.Type == typ {
			out = append(out, item)
		}
	}
	return out
}

// UpdateConnections replaces id's connections, dropping any that
// reference a nonexistent item (spec.md §4.5).
func (s *Store) UpdateConnections(id string, connections []string) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return mentaterrors.NotFound(fmt.Sprintf("memory item %q", id))
	}

	valid := make([]string, 0, len(connections))
	for _, c := range connections {
		if _, exists := s.items[c]; exists {
			valid = append(valid, c)
		}
	}
	item.Connections = valid
	s.items[id] = item
	s.mu.Unlock()

	if err := s.locker.WithLock(id, func() error {
		return fsutil.WriteJSON(s.itemPath(id), item)
	}); err != nil {
		return err
	}
	return s.persistMaster()
}

// GetConnected resolves id's connection ids to their items, silently
// skipping any that no longer exist.
func (s *Store) GetConnected(id string) ([]Item, error) {
	s.mu.RLock()
	item, ok := s.items[id]
	if !ok {
		s.mu.RUnlock()
		return nil, mentaterrors.NotFound(fmt.Sprintf("memory item %q", id))
	}
	connections := item.Connections
	s.mu.RUnlock()

	out := make([]Item, 0, len(connections))
	for _, c := range connections {
		s.mu.RLock()
		connected, exists := s.items[c]
		s.mu.RUnlock()
		if exists {
			out = append(out, connected)
		}
	}
	return out, nil
}

// Retrieve runs spec.md §4.5's hybrid ranking: semantic cosine similarity
// + lexical Jaccard similarity, boosted by importance/recency/type, and
// returns the top limit items descending by score.
func (s *Store) Retrieve(ctx context.Context, query string, limit int) ([]RetrievedItem, error) {
	queryVector, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryTokens := tokenize(query)

	s.mu.RLock()
	total := len(s.items)
	s.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}

	col := s.db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, nil
	}
	docs, err := col.QueryEmbedding(ctx, queryVector, total, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory vectors: %w", err)
	}

	results := make([]RetrievedItem, 0, len(docs))
	for _, doc := range docs {
		s.mu.RLock()
		item, ok := s.items[doc.ID]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		itemVector, err := s.itemVector(item.ID)
		if err != nil {
			continue
		}
		sc := score(item, queryVector, itemVector, queryTokens, s.semanticWeight, s.lexicalWeight)
		results = append(results, RetrievedItem{Item: item, Score: sc})
	}

	sortByScoreDesc(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) itemVector(id string) ([]float32, error) {
	var vec []float32
	if err := fsutil.ReadJSON(s.vectorPath(id), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func sortByScoreDesc(results []RetrievedItem) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Maintenance drops orphan connections, deletes vector files for missing
// items, and persists the master index (spec.md §4.5).
func (s *Store) Maintenance() error {
	s.mu.Lock()
	for id, item := range s.items {
		valid := item.Connections[:0]
		for _, c := range item.Connections {
			if _, exists := s.items[c]; exists {
				valid = append(valid, c)
			}
		}
		item.Connections = valid
		s.items[id] = item
	}
	ids := make(map[string]struct{}, len(s.items))
	for id := range s.items {
		ids[id] = struct{}{}
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.baseDir, "vectors"))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := entry.Name()
		id = id[:len(id)-len(filepath.Ext(id))]
		if _, ok := ids[id]; !ok {
			_ = os.Remove(filepath.Join(s.baseDir, "vectors", entry.Name()))
		}
	}

	return s.persistMaster()
}
