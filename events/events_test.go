package events

import (
	"context"
	"errors"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/chroma-scheduler/types"
)

type recorder struct {
	id     string
	events []cloudevents.Event
	err    error
}

func (r *recorder) OnEvent(_ context.Context, e cloudevents.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) ObserverID() string { return r.id }

type errorLog struct {
	types.NopLogger
	messages []string
}

func (l *errorLog) Error(msg string, _ ...any) { l.messages = append(l.messages, msg) }

func TestNewEvent(t *testing.T) {
	e, err := NewEvent(EventTypeDispatcherStarted, "test", map[string]any{"ticks": 3})
	require.NoError(t, err)

	require.NoError(t, e.Validate())
	assert.Equal(t, EventTypeDispatcherStarted, e.Type())
	assert.Equal(t, "test", e.Source())
	assert.NotEmpty(t, e.ID())

	var data map[string]any
	require.NoError(t, e.DataAs(&data))
	assert.EqualValues(t, 3, data["ticks"])
}

func TestBus_EmitReachesAllObservers(t *testing.T) {
	bus := NewBus("test", nil)
	a := &recorder{id: "a"}
	b := &recorder{id: "b", err: errors.New("boom")}
	bus.Register(a)
	bus.Register(b)

	bus.Emit(context.Background(), EventTypeConnectionEstablished, nil)

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, EventTypeConnectionEstablished, a.events[0].Type())
}

func TestBus_RegisterReplacesAndUnregister(t *testing.T) {
	bus := NewBus("test", nil)
	first := &recorder{id: "same"}
	second := &recorder{id: "same"}
	bus.Register(first)
	bus.Register(second)

	bus.Emit(context.Background(), EventTypeDispatcherStopped, nil)
	assert.Empty(t, first.events)
	assert.Len(t, second.events, 1)

	bus.Unregister("same")
	bus.Unregister("unknown")
	bus.Emit(context.Background(), EventTypeDispatcherStopped, nil)
	assert.Len(t, second.events, 1)
}

func TestBus_NilIsSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventTypeDispatcherShutdown, nil)
	})
}

func TestObserverFunc(t *testing.T) {
	var got string
	bus := NewBus("test", nil)
	bus.Register(ObserverFunc{ID: "fn", Fn: func(_ context.Context, e cloudevents.Event) error {
		got = e.Type()
		return nil
	}})

	bus.Emit(context.Background(), EventTypeConnectionLost, map[string]any{"reason": "heartbeat"})
	assert.Equal(t, EventTypeConnectionLost, got)
}

func TestBus_UnencodableDataIsLoggedNotSent(t *testing.T) {
	log := &errorLog{}
	bus := NewBus("test", log)
	r := &recorder{id: "r"}
	bus.Register(r)

	bus.Emit(context.Background(), EventTypeConnectionFailed, map[string]any{"bad": make(chan int)})

	assert.Empty(t, r.events)
	assert.Equal(t, []string{"Event dropped"}, log.messages)

	_, err := NewEvent(EventTypeConnectionFailed, "test", map[string]any{"bad": func() {}})
	assert.Error(t, err)
}
