package telemetry

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered events behind a mutex.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) receive(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := make([]Event, len(c.events))
			copy(out, c.events)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func newTestPublisher(t *testing.T) *EventPublisher {
	t.Helper()
	ep := NewEventPublisher(EventsConfig{BufferSize: 16})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ep.Shutdown(ctx)
	})
	return ep
}

func TestEventPublisherDelivery(t *testing.T) {
	ep := newTestPublisher(t)
	c := &collector{}
	ep.Subscribe(c.receive, nil)

	require.NoError(t, ep.PublishRunStarted("run-1", "INIT"))
	require.NoError(t, ep.PublishTaskCompleted("run-1", "install-containerd", "worker-1", "CHANGED", time.Second))
	require.NoError(t, ep.PublishRunCompleted("run-1", "OK", 2*time.Second))

	events := c.wait(t, 3)
	assert.Equal(t, EventTypeRunStarted, events[0].Type)
	assert.Equal(t, EventTypeTaskCompleted, events[1].Type)
	assert.Equal(t, "worker-1", events[1].Host)
	assert.Equal(t, EventTypeRunCompleted, events[2].Type)

	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventPublisherSeverity(t *testing.T) {
	ep := newTestPublisher(t)
	c := &collector{}
	ep.Subscribe(c.receive, nil)

	require.NoError(t, ep.PublishTaskCompleted("run-1", "t", "h", "FAILED", 0))
	require.NoError(t, ep.PublishRunCompleted("run-1", "FAILED", 0))
	require.NoError(t, ep.PublishHostDown("run-1", "worker-1", "connection refused"))

	events := c.wait(t, 3)
	assert.Equal(t, EventLevelError, events[0].Level)
	assert.Equal(t, EventLevelWarning, events[1].Level)
	assert.Equal(t, EventLevelError, events[2].Level)
}

func TestEventPublisherFilters(t *testing.T) {
	ep := newTestPublisher(t)

	errorsOnly := &collector{}
	ep.Subscribe(errorsOnly.receive, FilterByLevel(EventLevelError))
	runOnly := &collector{}
	ep.Subscribe(runOnly.receive, FilterByRunID("run-2"))

	require.NoError(t, ep.PublishRunStarted("run-1", "VERIFY"))
	require.NoError(t, ep.PublishHostDown("run-2", "worker-1", "refused"))

	events := errorsOnly.wait(t, 1)
	assert.Equal(t, EventTypeHostDown, events[0].Type)

	events = runOnly.wait(t, 1)
	assert.Equal(t, "run-2", events[0].RunID)
}

func TestLogSubscriber(t *testing.T) {
	ep := newTestPublisher(t)

	var buf bytes.Buffer
	logger := zerolog.New(zerolog.SyncWriter(&buf))

	// The log subscriber registers first: delivery is in subscription
	// order, so once the collector sees the event the log line exists.
	ep.Subscribe(LogSubscriber(logger), nil)
	c := &collector{}
	ep.Subscribe(c.receive, nil)

	require.NoError(t, ep.PublishHostDown("run-1", "worker-1", "connection refused"))
	c.wait(t, 1)

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, EventTypeHostDown)
	assert.Contains(t, out, "worker-1")
	assert.Contains(t, out, "run-1")
}

func TestEventPublisherDropsWhenFull(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{BufferSize: 1})

	// A subscriber stuck on an event stalls the delivery loop, so the
	// buffer fills and the publisher must drop instead of blocking.
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ep.Subscribe(func(Event) {
		once.Do(func() { close(entered) })
		<-release
	}, nil)

	require.NoError(t, ep.Publish(Event{Type: EventTypeRunStarted}))
	<-entered

	require.NoError(t, ep.Publish(Event{Type: EventTypeStepStarted}))
	err := ep.Publish(Event{Type: EventTypeTaskCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dropped")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ep.Shutdown(ctx))
}
