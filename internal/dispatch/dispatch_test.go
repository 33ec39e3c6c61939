package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentat-sh/mentat/internal/contract"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/health"
)

type fakeClient struct {
	name       string
	instanceID string
	queryFn    func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error)
	calls      int
}

func (f *fakeClient) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	f.calls++
	return f.queryFn(ctx, req)
}
func (f *fakeClient) Name() string       { return f.name }
func (f *fakeClient) Type() string       { return f.name }
func (f *fakeClient) InstanceID() string { return f.instanceID }
func (f *fakeClient) Health(ctx context.Context) error { return nil }

func TestDispatcher_FallsBackToNextProvider(t *testing.T) {
	failing := &fakeClient{name: "primary", instanceID: "i1", queryFn: func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
		return nil, mentaterrors.Transient("simulated outage")
	}}
	succeeding := &fakeClient{name: "secondary", instanceID: "i2", queryFn: func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
		return &contract.LLMResponse{Text: "ok", Model: req.Model}, nil
	}}

	monitor := health.New()
	d := New(monitor, WithMaxRetries(1))
	d.Register(NewProviderDescriptor(failing, 10, 5))
	d.Register(NewProviderDescriptor(succeeding, 5, 5))

	resp, err := d.Query(context.Background(), contract.LLMRequest{Prompt: "hi", Model: "any"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, succeeding.calls)
}

func TestDispatcher_AllProvidersFailedAfterRetries(t *testing.T) {
	alwaysFails := &fakeClient{name: "only", instanceID: "i1", queryFn: func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
		return nil, mentaterrors.Transient("down")
	}}

	monitor := health.New()
	d := New(monitor, WithMaxRetries(2))
	d.Register(NewProviderDescriptor(alwaysFails, 1, 1))

	start := time.Now()
	_, err := d.Query(context.Background(), contract.LLMRequest{Prompt: "hi", Model: "any"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, mentaterrors.ErrAllProvidersFailed)
	assert.GreaterOrEqual(t, elapsed, time.Second) // one 2^0s backoff round
	assert.Equal(t, 2, alwaysFails.calls)
}

func TestDispatcher_AuthErrorSkipsToNextProviderWithoutRetryPenalty(t *testing.T) {
	authFails := &fakeClient{name: "bad-creds", instanceID: "i1", queryFn: func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
		return nil, mentaterrors.Auth("credential rejected")
	}}
	succeeding := &fakeClient{name: "ok", instanceID: "i2", queryFn: func(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
		return &contract.LLMResponse{Text: "done", Model: req.Model}, nil
	}}

	monitor := health.New()
	d := New(monitor, WithMaxRetries(3))
	d.Register(NewProviderDescriptor(authFails, 10, 5))
	d.Register(NewProviderDescriptor(succeeding, 5, 5))

	resp, err := d.Query(context.Background(), contract.LLMRequest{Prompt: "hi", Model: "any"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 1, authFails.calls)
}

func TestProviderDescriptor_SuccessRateUndefinedTreatedAsOne(t *testing.T) {
	d := NewProviderDescriptor(&fakeClient{name: "fresh"}, 1, 1)
	stats := d.Stats()
	assert.Equal(t, float64(1), stats.SuccessRate)
}

func TestDispatcher_RanksByPriorityThenSuccessRateThenWeight(t *testing.T) {
	low := NewProviderDescriptor(&fakeClient{name: "low"}, 1, 1)
	high := NewProviderDescriptor(&fakeClient{name: "high"}, 10, 1)

	monitor := health.New()
	d := New(monitor)
	d.Register(low)
	d.Register(high)

	ranked := d.snapshotRanked()
	require.Len(t, ranked, 2)
	assert.Equal(t, "high", ranked[0].Client.Name())
}
