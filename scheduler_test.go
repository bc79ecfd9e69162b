package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/chroma-scheduler/dispatch"
	"github.com/st-keller/chroma-scheduler/events"
	"github.com/st-keller/chroma-scheduler/handle"
	"github.com/st-keller/chroma-scheduler/hoststate"
	"github.com/st-keller/chroma-scheduler/types"
	"github.com/st-keller/chroma-scheduler/update"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubConn struct {
	mu                             sync.Mutex
	connects, disconnects, updates int
	updateErr                      error
}

func (c *stubConn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *stubConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *stubConn) Update() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	return c.updateErr
}

func (c *stubConn) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.disconnects, c.updates
}

type pulse struct {
	ticks, unloads atomic.Int32
}

func (p *pulse) Tick()   { p.ticks.Add(1) }
func (p *pulse) Unload() { p.unloads.Add(1) }

type harness struct {
	loop    *update.Loop
	flags   *hoststate.Flags
	conn    *stubConn
	session *Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:  update.NewLoop(time.Millisecond, nil),
		flags: &hoststate.Flags{},
		conn:  &stubConn{},
	}
	s, err := New(DefaultConfig(), h.loop, h.flags,
		WithLogSink(quiet),
		WithConnectionFactory(func() (types.Connection, error) { return h.conn, nil }),
	)
	require.NoError(t, err)
	h.session = s
	t.Cleanup(s.Close)
	return h
}

func TestNew_Validation(t *testing.T) {
	loop := update.NewLoop(time.Millisecond, nil)
	flags := &hoststate.Flags{}

	bad := DefaultConfig()
	bad.TickRate = "warp"
	_, err := New(bad, loop, flags)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DefaultConfig(), nil, flags)
	assert.Error(t, err)

	_, err = New(DefaultConfig(), loop, nil)
	assert.Error(t, err)
}

func TestSession_ActivateTicksAndConnectsOnce(t *testing.T) {
	h := newHarness(t)
	p := &pulse{}
	life := handle.NewLifetime(p)

	h.session.Activate(life.Handle())
	h.session.Activate(life.Handle())

	assert.Equal(t, dispatch.Active, h.session.Dispatcher().State())
	assert.Equal(t, 1, h.loop.Len(), "one subscription no matter how often activated")
	assert.Equal(t, 1, h.session.Registry().Len())

	h.loop.Step()
	h.loop.Step()

	assert.EqualValues(t, 2, p.ticks.Load())
	connects, _, updates := h.conn.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 2, updates)
	assert.True(t, h.session.Guard().Connected())
}

func TestSession_InspectDoesNotStart(t *testing.T) {
	h := newHarness(t)
	life := handle.NewLifetime(&pulse{})

	h.session.Inspect(life.Handle())

	assert.Equal(t, dispatch.Idle, h.session.Dispatcher().State())
	assert.Equal(t, 1, h.session.Registry().Len())
	assert.Equal(t, 0, h.loop.Len())
}

func TestSession_CompileShutsDown(t *testing.T) {
	h := newHarness(t)
	a, b := &pulse{}, &pulse{}
	lifeA, lifeB := handle.NewLifetime(a), handle.NewLifetime(b)
	h.session.Activate(lifeA.Handle())
	h.session.Activate(lifeB.Handle())
	h.loop.Step()

	lifeB.Destroy()
	h.flags.SetCompiling(true)
	h.loop.Step()

	assert.Equal(t, dispatch.Idle, h.session.Dispatcher().State())
	assert.Equal(t, 0, h.session.Registry().Len())
	assert.Equal(t, 0, h.loop.Len())
	assert.EqualValues(t, 1, a.unloads.Load())
	assert.EqualValues(t, 0, b.unloads.Load(), "destroyed entity is not unloaded")
	assert.EqualValues(t, 1, a.ticks.Load(), "no tick in the compiling frame")
	assert.False(t, h.session.Guard().Connected())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p := &pulse{}
	h.session.Activate(handle.NewLifetime(p).Handle())
	h.loop.Step()

	h.session.Close()
	h.session.Close()

	_, disconnects, _ := h.conn.counts()
	assert.Equal(t, 1, disconnects)
	assert.EqualValues(t, 1, p.unloads.Load())
	assert.Equal(t, dispatch.Idle, h.session.Dispatcher().State())
}

func TestSession_EventsPublished(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var seen []string
	h.session.Events().Register(events.ObserverFunc{
		ID: "recorder",
		Fn: func(_ context.Context, e cloudevents.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, e.Type())
			return nil
		},
	})

	h.session.Activate(handle.NewLifetime(&pulse{}).Handle())
	h.session.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.EventTypeDispatcherStarted)
	assert.Contains(t, seen, events.EventTypeConnectionEstablished)
	assert.Contains(t, seen, events.EventTypeDispatcherShutdown)
	assert.Contains(t, seen, events.EventTypeConnectionClosed)
}

func TestSession_StatusChecksumTracksState(t *testing.T) {
	h := newHarness(t)

	idle := h.session.Status()
	assert.Equal(t, EventSource, idle.ID)

	h.session.Activate(handle.NewLifetime(&pulse{}).Handle())
	active := h.session.Status()
	assert.NotEqual(t, idle.Checksum, active.Checksum)

	data, ok := active.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "active", data["state"])
	assert.Equal(t, 1, data["tracked"])
	assert.Equal(t, true, data["connected"])
}

func TestSession_LogsBuffered(t *testing.T) {
	h := newHarness(t)
	h.session.Activate(handle.NewLifetime(&pulse{}).Handle())

	var messages []string
	for _, e := range h.session.Logs().Entries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Session created")
	assert.Contains(t, messages, "Dispatcher started")
}

// fakeChroma serves the Chroma REST endpoints.
func fakeChroma(t *testing.T, deletes *atomic.Int32) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("POST /razer/chromasdk", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"sessionid": 7, "uri": server.URL + "/chromasdk"})
	})
	mux.HandleFunc("PUT /chromasdk/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tick": 1})
	})
	mux.HandleFunc("DELETE /chromasdk", func(w http.ResponseWriter, r *http.Request) {
		deletes.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 0})
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSession_DefaultFactoryTalksToChroma(t *testing.T) {
	var deletes atomic.Int32
	server := fakeChroma(t, &deletes)

	cfg := DefaultConfig()
	cfg.Chroma.BaseURL = server.URL
	cfg.Chroma.HeartbeatInterval = 5 * time.Millisecond
	loop := update.NewLoop(time.Millisecond, nil)

	s, err := New(cfg, loop, &hoststate.Flags{}, WithLogSink(quiet))
	require.NoError(t, err)

	s.Activate(handle.NewLifetime(&pulse{}).Handle())

	require.Eventually(t, func() bool {
		loop.Step()
		data := s.Status().Data.(map[string]any)
		chroma, ok := data["chroma"].(map[string]any)
		return ok && chroma["state"] == "connected"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "healthy", s.Connectivity().Status("chroma"))

	s.Close()
	assert.EqualValues(t, 1, deletes.Load(), "Close waits for the uninit request")
}

func TestSession_CompileBeforeHandshakeAppliedReleasesChroma(t *testing.T) {
	var deletes atomic.Int32
	server := fakeChroma(t, &deletes)

	cfg := DefaultConfig()
	cfg.Chroma.BaseURL = server.URL
	loop := update.NewLoop(time.Millisecond, nil)
	flags := &hoststate.Flags{}

	s, err := New(cfg, loop, flags, WithLogSink(quiet))
	require.NoError(t, err)

	s.Activate(handle.NewLifetime(&pulse{}).Handle())
	s.mu.Lock()
	sess := s.chroma
	s.mu.Unlock()
	require.NotNil(t, sess)
	sess.Wait()

	flags.SetCompiling(true)
	loop.Step()
	s.Close()

	assert.Equal(t, dispatch.Idle, s.Dispatcher().State())
	assert.EqualValues(t, 1, deletes.Load())
}

func TestSession_ActivateAfterCloseIgnored(t *testing.T) {
	h := newHarness(t)
	h.session.Close()

	h.session.Activate(handle.NewLifetime(&pulse{}).Handle())
	h.session.Inspect(handle.NewLifetime(&pulse{}).Handle())

	assert.True(t, h.session.Closed())
	assert.Equal(t, dispatch.Idle, h.session.Dispatcher().State())
	assert.Equal(t, 0, h.session.Registry().Len())
	assert.Equal(t, 0, h.loop.Len())
	connects, _, _ := h.conn.counts()
	assert.Equal(t, 0, connects)
}
