package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a bundler lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// CompilationID is the associated compilation, if applicable.
	CompilationID string `json:"compilation_id,omitempty"`

	// UnitID is the associated unit identity, if applicable.
	UnitID string `json:"unit_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeCompilationStarted   = "compilation.started"
	EventTypeCompilationCompleted = "compilation.completed"
	EventTypeCompilationFailed    = "compilation.failed"
	EventTypeUnitResolved         = "unit.resolved"
	EventTypeUnitCacheHit         = "unit.cache_hit"
	EventTypeUnitBuilt            = "unit.built"
	EventTypeUnitFailed           = "unit.failed"
	EventTypeUnitComplete         = "unit.complete"
	EventTypeArtifactWritten      = "artifact.written"
	EventTypeWatchTriggered       = "watch.triggered"
	EventTypeError                = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions. Its Emit
// method satisfies the engine's EventSink interface.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Emit publishes a lifecycle event from the engine. Delivery failures are
// deliberately swallowed; events are advisory.
func (ep *EventPublisher) Emit(_ context.Context, eventType, unitID, message, level string) {
	_ = ep.Publish(Event{
		Type:    eventType,
		Source:  "engine",
		UnitID:  unitID,
		Message: message,
		Level:   level,
	})
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishCompilationStarted publishes a compilation started event.
func (ep *EventPublisher) PublishCompilationStarted(compilationID string, entries int) error {
	return ep.Publish(Event{
		Type:          EventTypeCompilationStarted,
		Source:        "engine",
		CompilationID: compilationID,
		Message:       fmt.Sprintf("Compilation %s started with %d entries", compilationID, entries),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"entries": entries,
		},
	})
}

// PublishCompilationCompleted publishes a compilation completed event.
func (ep *EventPublisher) PublishCompilationCompleted(compilationID string, artifacts int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:          EventTypeCompilationCompleted,
		Source:        "engine",
		CompilationID: compilationID,
		Message:       fmt.Sprintf("Compilation %s completed with %d artifacts", compilationID, artifacts),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"artifacts": artifacts,
			"duration":  duration.Seconds(),
		},
	})
}

// PublishCompilationFailed publishes a compilation failed event.
func (ep *EventPublisher) PublishCompilationFailed(compilationID, reason string) error {
	return ep.Publish(Event{
		Type:          EventTypeCompilationFailed,
		Source:        "engine",
		CompilationID: compilationID,
		Message:       fmt.Sprintf("Compilation %s failed: %s", compilationID, reason),
		Level:         EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishArtifactWritten publishes an artifact written event.
func (ep *EventPublisher) PublishArtifactWritten(compilationID, name string, size int) error {
	return ep.Publish(Event{
		Type:          EventTypeArtifactWritten,
		Source:        "emit",
		CompilationID: compilationID,
		Message:       fmt.Sprintf("Artifact %s written (%d bytes)", name, size),
		Level:         EventLevelInfo,
		Data: map[string]interface{}{
			"name": name,
			"size": size,
		},
	})
}

// PublishWatchTriggered publishes a watch triggered event.
func (ep *EventPublisher) PublishWatchTriggered(paths []string) error {
	return ep.Publish(Event{
		Type:    EventTypeWatchTriggered,
		Source:  "watch",
		Message: fmt.Sprintf("Rebuild triggered by %d changed paths", len(paths)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"paths": paths,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
		return nil
	}

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

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByUnitID creates a filter that only allows events for a specific unit.
func FilterByUnitID(unitID string) EventFilter {
	return func(event Event) bool {
		return event.UnitID == unitID
	}
}
