package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

type stubService struct {
	name      string
	stopOrder *[]string
	stopErr   error
}

func (s *stubService) Stop(ctx context.Context) error {
	*s.stopOrder = append(*s.stopOrder, s.name)
	return s.stopErr
}

func TestRegistry_ShutdownRunsInReverseRegistrationOrder(t *testing.T) {
	var stopped []string
	r := New()
	r.Register("a", &stubService{name: "a", stopOrder: &stopped})
	r.Register("b", &stubService{name: "b", stopOrder: &stopped})
	r.Register("c", &stubService{name: "c", stopOrder: &stopped})

	err := r.Shutdown(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
}

func TestRegistry_DuplicateRegistrationReplacesKeepingOrderPosition(t *testing.T) {
	var stopped []string
	r := New()
	r.Register("a", &stubService{name: "a-v1", stopOrder: &stopped})
	r.Register("b", &stubService{name: "b", stopOrder: &stopped})
	r.Register("a", &stubService{name: "a-v2", stopOrder: &stopped})

	assert.Equal(t, []string{"a", "b"}, r.Names())

	_ = r.Shutdown(context.Background())
	assert.Equal(t, []string{"a-v2", "b"}, stopped)
}

func TestRegistry_MustGetPanicsWithServiceMissingForUnknownName(t *testing.T) {
	r := New()
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected MustGet to panic for an unregistered name")
		}
		err, ok := rec.(error)
		if !ok {
			t.Fatalf("expected panic value to be an error, got %T", rec)
		}
		assert.ErrorIs(t, err, mentaterrors.ErrServiceMissing)
	}()
	r.MustGet("does-not-exist")
}

func TestRegistry_ShutdownCollectsFirstErrorButStopsEveryService(t *testing.T) {
	var stopped []string
	r := New()
	r.Register("a", &stubService{name: "a", stopOrder: &stopped})
	r.Register("b", &stubService{name: "b", stopOrder: &stopped, stopErr: fmt.Errorf("boom")})
	r.Register("c", &stubService{name: "c", stopOrder: &stopped})

	err := r.Shutdown(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, stopped)
}

func TestRegistry_GetReturnsFalseForUnknownName(t *testing.T) {
	r := New()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}
