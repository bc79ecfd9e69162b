// Package events publishes scheduler lifecycle changes as CloudEvents.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/st-keller/chroma-scheduler/types"
)

// Event types, reverse domain notation.
const (
	EventTypeDispatcherStarted  = "com.chroma.scheduler.dispatcher.started"
	EventTypeDispatcherStopped  = "com.chroma.scheduler.dispatcher.stopped"
	EventTypeDispatcherShutdown = "com.chroma.scheduler.dispatcher.shutdown"

	EventTypeConnectionEstablished = "com.chroma.scheduler.connection.established"
	EventTypeConnectionClosed      = "com.chroma.scheduler.connection.closed"
	EventTypeConnectionFailed      = "com.chroma.scheduler.connection.failed"
	EventTypeConnectionLost        = "com.chroma.scheduler.connection.lost"
)

// Observer receives events. It runs on the tick thread, so keep it quick.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc struct {
	ID string
	Fn func(ctx context.Context, event cloudevents.Event) error
}

// OnEvent calls Fn.
func (o ObserverFunc) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return o.Fn(ctx, event)
}

// ObserverID returns ID.
func (o ObserverFunc) ObserverID() string { return o.ID }

// NewEvent builds a CloudEvent with a JSON payload. It fails when data
// cannot be encoded.
func NewEvent(eventType, source string, data map[string]any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(eventType)
	event.SetSource(source)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
			return event, fmt.Errorf("encode %s data: %w", eventType, err)
		}
	}
	return event, nil
}

// Bus fans events out to observers. A nil *Bus drops everything.
type Bus struct {
	source string
	logger types.Logger

	mu        sync.RWMutex
	observers []Observer
}

// NewBus creates a bus stamping events with source.
func NewBus(source string, logger types.Logger) *Bus {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Bus{source: source, logger: logger}
}

// Register adds an observer. Registering the same ID twice replaces it.
func (b *Bus) Register(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing.ObserverID() == o.ObserverID() {
			b.observers[i] = o
			return
		}
	}
	b.observers = append(b.observers, o)
}

// Unregister removes an observer by ID. Unknown IDs are ignored.
func (b *Bus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing.ObserverID() == id {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Emit notifies every observer synchronously. Observer errors are logged.
func (b *Bus) Emit(ctx context.Context, eventType string, data map[string]any) {
	if b == nil {
		return
	}

	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	event, err := NewEvent(eventType, b.source, data)
	if err != nil {
		b.logger.Error("Event dropped", "type", eventType, "error", err)
		return
	}
	for _, o := range observers {
		if err := o.OnEvent(ctx, event); err != nil {
			b.logger.Warn("Observer failed", "observer", o.ObserverID(), "type", eventType, "error", err)
		}
	}
}
