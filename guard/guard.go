// Package guard wraps the single shared lighting-service connection with an
// idempotent connect/disconnect pair.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/st-keller/chroma-scheduler/events"
	"github.com/st-keller/chroma-scheduler/types"
)

// Factory builds the connection resource. Called once, on the first Connect.
type Factory func() (types.Connection, error)

// Guard holds at most one live connection.
type Guard struct {
	factory Factory
	logger  types.Logger
	bus     *events.Bus

	mu        sync.Mutex
	conn      types.Connection
	connected bool
	attempts  int
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// WithEvents publishes connection events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(g *Guard) { g.bus = bus }
}

// New creates a disconnected Guard. The connection is built lazily.
func New(factory Factory, opts ...Option) *Guard {
	if factory == nil {
		panic("guard.New: factory required")
	}
	g := &Guard{
		factory: factory,
		logger:  types.NopLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// notice is an event to publish once the lock is released.
type notice struct {
	eventType string
	data      map[string]any
}

func (g *Guard) publish(n *notice) {
	if n != nil {
		g.bus.Emit(context.Background(), n.eventType, n.data)
	}
}

// Connect establishes the session unless it is already up.
// On failure the guard stays disconnected; there is no automatic retry.
func (g *Guard) Connect() error {
	g.mu.Lock()
	n, err := g.connectLocked()
	g.mu.Unlock()

	g.publish(n)
	return err
}

func (g *Guard) connectLocked() (*notice, error) {
	if g.connected {
		return nil, nil
	}

	if g.conn == nil {
		conn, err := g.factory()
		if err != nil {
			g.logger.Error("Failed to build connection", "error", err)
			return &notice{events.EventTypeConnectionFailed, map[string]any{"error": err.Error()}},
				fmt.Errorf("build connection: %w", err)
		}
		g.conn = conn
	}

	g.attempts++
	if err := g.conn.Connect(); err != nil {
		g.logger.Warn("Connect failed", "attempt", g.attempts, "error", err)
		return &notice{events.EventTypeConnectionFailed, map[string]any{
			"attempt": g.attempts,
			"error":   err.Error(),
		}}, fmt.Errorf("connect: %w", err)
	}

	g.connected = true
	g.logger.Info("Connection established", "attempt", g.attempts)
	return &notice{events.EventTypeConnectionEstablished, map[string]any{"attempt": g.attempts}}, nil
}

// Disconnect tears the session down. No-op when already disconnected.
func (g *Guard) Disconnect() error {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return nil
	}
	g.connected = false
	err := g.conn.Disconnect()
	g.mu.Unlock()

	if err != nil {
		g.logger.Warn("Disconnect failed", "error", err)
	} else {
		g.logger.Info("Connection closed")
	}
	g.publish(&notice{events.EventTypeConnectionClosed, nil})
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// PollOnce advances the session by one tick. No-op while disconnected.
// A lost session flips the guard to disconnected so the next Connect starts over.
func (g *Guard) PollOnce() {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return
	}
	err := g.conn.Update()
	lost := errors.Is(err, types.ErrSessionLost)
	if lost {
		g.connected = false
	}
	g.mu.Unlock()

	switch {
	case err == nil:
	case lost:
		g.logger.Warn("Connection lost", "error", err)
		g.publish(&notice{events.EventTypeConnectionLost, map[string]any{"error": err.Error()}})
	default:
		g.logger.Debug("Poll failed", "error", err)
	}
}

// Connected reports whether the guard considers the session live.
func (g *Guard) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Attempts returns how many connect attempts reached the resource.
func (g *Guard) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
