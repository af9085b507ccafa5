package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is an in-process notification about run progress. Subscribers
// (the operator UI, the report store) receive events without coupling to
// the engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// RunID is the associated run, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Task is the associated task name, if applicable.
	Task string `json:"task,omitempty"`

	// Host is the associated host id, if applicable.
	Host string `json:"host,omitempty"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeStepStarted   = "step.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeHostDown      = "host.down"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers through a buffered
// channel. Publishing never blocks the engine; when the buffer is full
// the event is dropped and an error returned.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher and starts its delivery loop.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	ep.wg.Add(1)
	go ep.deliverLoop()

	return ep
}

// Publish enqueues an event for delivery.
func (ep *EventPublisher) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case ep.buffer <- event:
		return nil
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, goal string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started for goal %s", runID, goal),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"goal": goal,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, rollup string, duration time.Duration) error {
	level := EventLevelInfo
	if rollup != "OK" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with rollup %s", runID, rollup),
		Level:   level,
		Data: map[string]interface{}{
			"rollup":   rollup,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTaskCompleted publishes a task completed event.
func (ep *EventPublisher) PublishTaskCompleted(runID, task, host, status string, duration time.Duration) error {
	level := EventLevelInfo
	switch status {
	case "WARNING":
		level = EventLevelWarning
	case "FAILED":
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeTaskCompleted,
		RunID:   runID,
		Task:    task,
		Host:    host,
		Message: fmt.Sprintf("Task %s on %s: %s", task, host, status),
		Level:   level,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishHostDown publishes a host down event after a connection failure.
func (ep *EventPublisher) PublishHostDown(runID, host, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeHostDown,
		RunID:   runID,
		Host:    host,
		Message: fmt.Sprintf("Host %s unreachable: %s", host, reason),
		Level:   EventLevelError,
	})
}

// Subscribe registers a subscriber; a nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (ep *EventPublisher) deliverLoop() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.ctx.Done():
			// Drain what is already buffered.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops delivery after draining the buffer.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// LogSubscriber forwards events to the diagnostic log, mapping event
// severity onto the log level.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		evt := logger.Debug()
		switch event.Level {
		case EventLevelWarning:
			evt = logger.Warn()
		case EventLevelError:
			evt = logger.Error()
		}
		evt.
			Str("event", event.Type).
			Str("run_id", event.RunID).
			Str("task", event.Task).
			Str("host", event.Host).
			Msg(event.Message)
	}
}

// FilterByLevel keeps events at or above a minimum severity.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByRunID keeps events belonging to one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
