package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mentat-sh/mentat/internal/health"
)

type recordingChannel struct {
	mu       sync.Mutex
	name     string
	messages []string
	failNext bool
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Notify(ctx context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return fmt.Errorf("delivery failed")
	}
	c.messages = append(c.messages, message)
	return nil
}

func TestEgress_BroadcastsUnhealthyTransitionsToAllChannels(t *testing.T) {
	rec := &recordingChannel{name: "test"}
	e := &Egress{channels: []Channel{rec}}

	e.onHealthUpdate(health.HealthUpdate{Service: "anthropic", Status: health.StatusDown})

	assert.Len(t, rec.messages, 1)
	assert.Contains(t, rec.messages[0], "anthropic")
	assert.Contains(t, rec.messages[0], "down")
}

func TestEgress_IgnoresUpTransitions(t *testing.T) {
	rec := &recordingChannel{name: "test"}
	e := &Egress{channels: []Channel{rec}}

	e.onHealthUpdate(health.HealthUpdate{Service: "anthropic", Status: health.StatusUp})

	assert.Empty(t, rec.messages)
}

func TestEgress_BroadcastsAllProvidersFailed(t *testing.T) {
	rec := &recordingChannel{name: "test"}
	e := &Egress{channels: []Channel{rec}}

	e.onAllProvidersFailed(health.AllProvidersFailedEvent{LastErr: fmt.Errorf("every provider down")})

	assert.Len(t, rec.messages, 1)
	assert.Contains(t, rec.messages[0], "every provider down")
}

func TestEgress_OneChannelFailureDoesNotBlockOthers(t *testing.T) {
	failing := &recordingChannel{name: "failing", failNext: true}
	working := &recordingChannel{name: "working"}
	e := &Egress{channels: []Channel{failing, working}}

	e.broadcast("hello")

	assert.Empty(t, failing.messages)
	assert.Len(t, working.messages, 1)
}

func TestEgress_SubscribesToMonitorAndReceivesRealEvents(t *testing.T) {
	rec := &recordingChannel{name: "test"}
	e := &Egress{channels: []Channel{rec}}
	monitor := health.New()
	monitor.Subscribe(health.Subscriber{
		OnHealthUpdate:       e.onHealthUpdate,
		OnAllProvidersFailed: e.onAllProvidersFailed,
	})

	monitor.SetStatus("openai", health.StatusDegraded)

	assert.Len(t, rec.messages, 1)
	assert.Contains(t, rec.messages[0], "openai")
}
