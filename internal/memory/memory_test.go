package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/fsutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), config.MemoryConfig{VectorDims: 32}, nil)
	require.NoError(t, err)
	return s
}

func TestStore_StoreAndGetByID(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Store(Item{Type: TypeEpisodic, Content: "the deploy failed at 3am", Importance: 0.8})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "the deploy failed at 3am", got.Content)
	assert.False(t, got.CreatedTs.IsZero())
}

func TestStore_GetByType(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Store(Item{Type: TypeWorking, Content: "scratch note"})
	require.NoError(t, err)
	_, err = s.Store(Item{Type: TypeSemantic, Content: "fact about the system"})
	require.NoError(t, err)

	working := s.GetByType(TypeWorking)
	require.Len(t, working, 1)
	assert.Equal(t, "scratch note", working[0].Content)
}

func TestStore_UpdateConnectionsDropsNonexistentIDs(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Store(Item{Type: TypeSemantic, Content: "a"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateConnections(a, []string{"does-not-exist"}))

	got, err := s.GetByID(a)
	require.NoError(t, err)
	assert.Empty(t, got.Connections)
}

func TestStore_GetConnectedResolvesIDs(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Store(Item{Type: TypeSemantic, Content: "a"})
	require.NoError(t, err)
	b, err := s.Store(Item{Type: TypeSemantic, Content: "b"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateConnections(a, []string{b}))

	connected, err := s.GetConnected(a)
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, b, connected[0].ID)
}

func TestStore_RetrievePrefersLexicallyMatchingContent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Store(Item{Type: TypeSemantic, Content: "deployment pipeline failed with a timeout error", Importance: 0.5})
	require.NoError(t, err)
	_, err = s.Store(Item{Type: TypeSemantic, Content: "completely unrelated content about cooking", Importance: 0.5})
	require.NoError(t, err)

	results, err := s.Retrieve(context.Background(), "deployment pipeline timeout", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Item.Content, "deployment pipeline")
}

func TestStore_RetrieveRespectsLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Store(Item{Type: TypeSemantic, Content: "shared content item"})
		require.NoError(t, err)
	}

	results, err := s.Retrieve(context.Background(), "shared content", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_MaintenancePersistsCleanedConnections(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Store(Item{Type: TypeEpisodic, Content: "a"})
	require.NoError(t, err)

	s.mu.Lock()
	item := s.items[a]
	item.Connections = []string{"ghost"}
	s.items[a] = item
	s.mu.Unlock()

	require.NoError(t, s.Maintenance())

	got, err := s.GetByID(a)
	require.NoError(t, err)
	assert.Empty(t, got.Connections)

	var persisted []Item
	require.NoError(t, fsutil.ReadJSON(s.masterPath(), &persisted))
	require.Len(t, persisted, 1)
	assert.Empty(t, persisted[0].Connections)
}

func TestDefaultEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewDefaultEmbedder(16)
	v1, err := e.Embed("Hello World")
	require.NoError(t, err)
	v2, err := e.Embed("  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var norm float64
	for _, x := range v1 {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 0.01)
}

func TestJaccard_IdenticalSetsIsOne(t *testing.T) {
	a := tokenize("alpha beta gamma")
	b := tokenize("gamma beta alpha")
	assert.Equal(t, float64(1), jaccard(a, b))
}

func TestItem_AgeDaysReflectsCreation(t *testing.T) {
	item := Item{CreatedTs: time.Now().Add(-48 * time.Hour)}
	assert.InDelta(t, 2.0, item.ageDays(), 0.05)
}
