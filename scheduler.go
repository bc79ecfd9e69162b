package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/st-keller/chroma-scheduler/chroma"
	"github.com/st-keller/chroma-scheduler/dispatch"
	"github.com/st-keller/chroma-scheduler/events"
	"github.com/st-keller/chroma-scheduler/guard"
	"github.com/st-keller/chroma-scheduler/handle"
	"github.com/st-keller/chroma-scheduler/hoststate"
	"github.com/st-keller/chroma-scheduler/lifecycle"
	"github.com/st-keller/chroma-scheduler/registry"
	"github.com/st-keller/chroma-scheduler/standard"
	"github.com/st-keller/chroma-scheduler/status"
	"github.com/st-keller/chroma-scheduler/transport"
	"github.com/st-keller/chroma-scheduler/types"
	"github.com/st-keller/chroma-scheduler/update"
)

// EventSource is the CloudEvents source of everything a Session publishes.
const EventSource = "chroma-scheduler"

// Session owns one registry, guard, dispatcher and set of hooks.
// Several Sessions can coexist in one process.
type Session struct {
	config Config

	// Standard components (public access via getters)
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
	bus          *events.Bus

	registry   *registry.Registry
	guard      *guard.Guard
	dispatcher *dispatch.Dispatcher
	hooks      *lifecycle.Hooks

	mu     sync.Mutex
	chroma *chroma.Session // set by the default factory
	closed bool
}

type options struct {
	factory guard.Factory
	sink    *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithConnectionFactory replaces the Chroma REST session with another connection.
func WithConnectionFactory(factory guard.Factory) Option {
	return func(o *options) { o.factory = factory }
}

// WithLogSink forwards log entries to sink instead of slog.Default().
func WithLogSink(sink *slog.Logger) Option {
	return func(o *options) { o.sink = sink }
}

// New validates config and builds an Idle session. Nothing connects until
// the first activation.
func New(config Config, source update.Source, signals hoststate.Signals, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("tick source required")
	}
	if signals == nil {
		return nil, fmt.Errorf("host signals required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := dispatch.ParsePollPolicy(config.PollPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	logs := standard.NewRecentLogs(config.LogBufferSize, o.sink)
	s := &Session{
		config:       config,
		logs:         logs,
		connectivity: standard.NewConnectivityTracker(),
		bus:          events.NewBus(EventSource, logs),
		registry:     registry.New(),
	}

	factory := o.factory
	if factory == nil {
		factory = s.dialChroma
	}
	s.guard = guard.New(factory, guard.WithLogger(logs), guard.WithEvents(s.bus))
	s.dispatcher = dispatch.New(source, signals, s.registry, s.guard,
		dispatch.WithPollPolicy(policy),
		dispatch.WithLogger(logs),
		dispatch.WithEvents(s.bus),
	)
	s.hooks = lifecycle.New(s.registry, s.dispatcher, logs)

	logs.Info("Session created", "tick_rate", config.TickRate, "poll_policy", policy.String())
	return s, nil
}

// dialChroma is the default guard.Factory.
func (s *Session) dialChroma() (types.Connection, error) {
	client, err := transport.BuildClient(s.config.transportConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}
	sess, err := chroma.NewSession(s.config.chromaConfig(), client, s.connectivity, s.logs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.chroma = sess
	s.mu.Unlock()
	return sess, nil
}

// Activate is shorthand for Hooks().OnActivated. Ignored after Close.
func (s *Session) Activate(entity handle.Handle) {
	if s.Closed() {
		s.logs.Debug("Activation after close ignored")
		return
	}
	s.hooks.OnActivated(entity)
}

// Inspect is shorthand for Hooks().OnInspected. Ignored after Close.
func (s *Session) Inspect(entity handle.Handle) {
	if s.Closed() {
		return
	}
	s.hooks.OnInspected(entity)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down and waits for in-flight Chroma requests.
// Calling it again does nothing.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.hooks.OnTeardown()

	s.mu.Lock()
	sess := s.chroma
	s.mu.Unlock()
	if sess != nil {
		sess.Wait()
	}
	s.logs.Info("Session closed")
}

// Status returns a snapshot of the session for status endpoints.
func (s *Session) Status() status.Report {
	data := map[string]any{
		"state":        s.dispatcher.State().String(),
		"poll_policy":  s.dispatcher.Policy().String(),
		"ticks":        s.dispatcher.Ticks(),
		"tracked":      s.registry.Len(),
		"connected":    s.guard.Connected(),
		"attempts":     s.guard.Attempts(),
		"connectivity": s.connectivity.GetData(),
		"logs":         s.logs.GetData(),
	}

	s.mu.Lock()
	if s.chroma != nil {
		data["chroma"] = map[string]any{
			"state":      s.chroma.State().String(),
			"session_id": s.chroma.SessionID(),
		}
	}
	s.mu.Unlock()

	return status.New(EventSource, data)
}

// Hooks returns the host entry points.
func (s *Session) Hooks() *lifecycle.Hooks { return s.hooks }

// Registry returns the entity registry.
func (s *Session) Registry() *registry.Registry { return s.registry }

// Dispatcher returns the tick dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Guard returns the connection guard.
func (s *Session) Guard() *guard.Guard { return s.guard }

// Events returns the bus session events are published on.
func (s *Session) Events() *events.Bus { return s.bus }

// Logs returns the recent-logs buffer, which is also the session logger.
func (s *Session) Logs() *standard.RecentLogs { return s.logs }

// Connectivity returns the tracker fed by Chroma requests.
func (s *Session) Connectivity() *standard.ConnectivityTracker { return s.connectivity }
