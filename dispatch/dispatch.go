// Package dispatch drives the registry and the connection guard from the
// host tick source.
//
// The dispatcher is a two-state machine. Idle means no tick subscription.
// Active means subscribed, with the connection live or being established.
// Every tick runs, in this fixed order:
//
//  1. compiling check: on true, the shutdown path (stop, purge, unload, disconnect)
//  2. poll policy check: poll the connection unless another owner drives it
//  3. registry tick: every valid entity, insertion order
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/st-keller/chroma-scheduler/events"
	"github.com/st-keller/chroma-scheduler/guard"
	"github.com/st-keller/chroma-scheduler/hoststate"
	"github.com/st-keller/chroma-scheduler/registry"
	"github.com/st-keller/chroma-scheduler/types"
	"github.com/st-keller/chroma-scheduler/update"
)

// State of the dispatcher.
type State int

const (
	Idle State = iota
	Active
)

// String returns "idle" or "active".
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PollPolicy decides who polls the connection while the host is simulating.
type PollPolicy int

const (
	// SkipWhileSimulating assumes a host-managed owner polls during simulation.
	SkipWhileSimulating PollPolicy = iota
	// AlwaysPoll makes this dispatcher the only poller in every mode.
	AlwaysPoll
)

// ShouldPoll reports whether to poll this tick.
func (p PollPolicy) ShouldPoll(simulating bool) bool {
	if p == AlwaysPoll {
		return true
	}
	return !simulating
}

// String returns the name ParsePollPolicy accepts.
func (p PollPolicy) String() string {
	switch p {
	case SkipWhileSimulating:
		return "skip-while-simulating"
	case AlwaysPoll:
		return "always"
	default:
		return fmt.Sprintf("PollPolicy(%d)", int(p))
	}
}

// ParsePollPolicy accepts "skip-while-simulating" (or "") and "always".
func ParsePollPolicy(s string) (PollPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip-while-simulating":
		return SkipWhileSimulating, nil
	case "always":
		return AlwaysPoll, nil
	default:
		return 0, fmt.Errorf("invalid poll policy %q (must be skip-while-simulating or always)", s)
	}
}

// Dispatcher owns the tick subscription.
type Dispatcher struct {
	source   update.Source
	signals  hoststate.Signals
	registry *registry.Registry
	guard    *guard.Guard
	policy   PollPolicy
	logger   types.Logger
	bus      *events.Bus

	mu    sync.Mutex
	state State
	sub   uuid.UUID
	ticks uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollPolicy overrides SkipWhileSimulating.
func WithPollPolicy(p PollPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithLogger sets the logger.
func WithLogger(logger types.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithEvents publishes state changes on bus.
func WithEvents(bus *events.Bus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// New creates an Idle dispatcher.
func New(source update.Source, signals hoststate.Signals, reg *registry.Registry, g *guard.Guard, opts ...Option) *Dispatcher {
	if source == nil || signals == nil || reg == nil || g == nil {
		panic("dispatch.New: source, signals, registry and guard required")
	}
	d := &Dispatcher{
		source:   source,
		signals:  signals,
		registry: reg,
		guard:    g,
		policy:   SkipWhileSimulating,
		logger:   types.NopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start subscribes to the tick source, then asks the guard to connect.
// No-op when already Active. A connect failure leaves the dispatcher Active;
// ticking continues and reconnecting is up to the next explicit Connect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.state == Active {
		d.mu.Unlock()
		return
	}
	d.sub = d.source.Subscribe(d.onTick)
	d.state = Active
	d.mu.Unlock()

	d.logger.Info("Dispatcher started", "policy", d.policy.String())
	d.bus.Emit(context.Background(), events.EventTypeDispatcherStarted, map[string]any{"policy": d.policy.String()})

	if err := d.guard.Connect(); err != nil {
		d.logger.Warn("Connect on start failed", "error", err)
	}
}

// Stop unsubscribes from the tick source. It does not disconnect.
// No-op when Idle.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.state == Idle {
		d.mu.Unlock()
		return
	}
	if !d.source.Unsubscribe(d.sub) {
		d.logger.Warn("Tick subscription was already gone", "subscription", d.sub.String())
	}
	d.sub = uuid.Nil
	d.state = Idle
	d.mu.Unlock()

	d.logger.Info("Dispatcher stopped")
	d.bus.Emit(context.Background(), events.EventTypeDispatcherStopped, nil)
}

// Shutdown runs the full teardown: stop, purge stale handles, unload and
// drop every live entity, disconnect. Safe to call in any state.
func (d *Dispatcher) Shutdown(reason string) {
	d.Stop()
	purged := d.registry.PurgeInvalid()
	unloaded := 0
	drained := d.registry.Drain(func(u types.Updatable) {
		if unloader, ok := u.(types.Unloader); ok {
			d.safely("unload", unloader.Unload)
			unloaded++
		}
	})
	if err := d.guard.Disconnect(); err != nil {
		d.logger.Warn("Disconnect on shutdown failed", "error", err)
	}

	d.logger.Info("Dispatcher shut down", "reason", reason, "purged", purged, "dropped", drained, "unloaded", unloaded)
	d.bus.Emit(context.Background(), events.EventTypeDispatcherShutdown, map[string]any{
		"reason":   reason,
		"purged":   purged,
		"dropped":  drained,
		"unloaded": unloaded,
	})
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Ticks returns how many ticks were handled while Active.
func (d *Dispatcher) Ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

// Policy returns the poll policy in use.
func (d *Dispatcher) Policy() PollPolicy {
	return d.policy
}

func (d *Dispatcher) onTick() {
	d.mu.Lock()
	if d.state != Active {
		// a tick already in flight when Stop ran
		d.mu.Unlock()
		return
	}
	d.ticks++
	d.mu.Unlock()

	if d.signals.Compiling() {
		d.Shutdown("compiling")
		return
	}

	if d.policy.ShouldPoll(d.signals.Simulating()) {
		d.guard.PollOnce()
	}

	d.registry.TickAll(func(u types.Updatable) {
		d.safely("tick", u.Tick)
	})
}

// safely runs fn, logging instead of propagating a panic.
func (d *Dispatcher) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Entity panicked", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
