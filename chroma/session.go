// Package chroma implements the lighting-service session over the Chroma REST API.
//
// Protocol:
//
//	POST   {base}/razer/chromasdk  app info      -> {"sessionid": n, "uri": "..."}
//	PUT    {uri}/heartbeat                       -> {"tick": n}
//	DELETE {uri}                                 -> {"result": 0}
//
// Every request runs on a background goroutine. Connect only starts the
// handshake; Update collects finished requests and sends heartbeats when due.
// Neither blocks the tick thread.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/chroma-scheduler/standard"
	"github.com/st-keller/chroma-scheduler/types"
)

// DefaultBaseURL is where the local Chroma service listens.
const DefaultBaseURL = "http://localhost:54235"

const serviceName = "chroma"

var (
	ErrHandshakeFailed = errors.New("chroma handshake failed")
	ErrHeartbeatFailed = errors.New("chroma heartbeat failed")
)

// Author identifies who built the host application.
type Author struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// AppInfo is the body of the init request.
type AppInfo struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Author          Author   `json:"author"`
	DeviceSupported []string `json:"device_supported"`
	Category        string   `json:"category"`
}

// Config for a Session.
type Config struct {
	BaseURL           string
	App               AppInfo
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL required")
	}
	if c.App.Title == "" {
		return fmt.Errorf("App.Title required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("RequestTimeout must be > 0")
	}
	return nil
}

// State of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type resultKind int

const (
	handshakeDone resultKind = iota
	heartbeatDone
)

type result struct {
	attempt   uuid.UUID
	kind      resultKind
	sessionID int
	uri       string
	err       error
}

// Session implements types.Connection.
type Session struct {
	cfg     Config
	client  *http.Client
	logger  types.Logger
	tracker *standard.ConnectivityTracker
	now     func() time.Time

	mu        sync.Mutex
	state     State
	attempt   uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	sessionID int
	uri       string
	lastBeat  time.Time
	beating   bool
	pending   []result

	inflight sync.WaitGroup
}

// NewSession creates a disconnected Session.
func NewSession(cfg Config, client *http.Client, tracker *standard.ConnectivityTracker, logger types.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chroma config: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("http client required")
	}
	if tracker == nil {
		tracker = standard.NewConnectivityTracker()
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Session{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		tracker: tracker,
		now:     time.Now,
	}, nil
}

// Connect starts the handshake unless one is running or done.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Disconnected {
		return nil
	}

	body, err := json.Marshal(s.cfg.App)
	if err != nil {
		return fmt.Errorf("encode app info: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.attempt = uuid.New()
	s.state = Connecting
	s.pending = nil

	s.logger.Debug("Chroma handshake started", "attempt", s.attempt.String(), "url", s.cfg.BaseURL)
	s.inflight.Add(1)
	go s.handshake(s.ctx, s.attempt, body)
	return nil
}

// Update applies finished requests and sends a heartbeat when due.
// A failed handshake or heartbeat returns an error wrapping types.ErrSessionLost.
func (s *Session) Update() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.pending
	s.pending = nil

	for _, r := range pending {
		if r.attempt != s.attempt {
			continue
		}
		if err := s.applyLocked(r); err != nil {
			return err
		}
	}

	switch s.state {
	case Disconnected:
		return fmt.Errorf("%w: %w", types.ErrSessionLost, types.ErrNotConnected)
	case Connecting:
		return nil
	}

	now := s.now()
	if !s.beating && now.Sub(s.lastBeat) >= s.cfg.HeartbeatInterval {
		s.beating = true
		s.lastBeat = now
		s.inflight.Add(1)
		go s.heartbeat(s.ctx, s.attempt, s.uri)
	}
	return nil
}

func (s *Session) applyLocked(r result) error {
	switch r.kind {
	case handshakeDone:
		if s.state != Connecting {
			return nil
		}
		if r.err != nil {
			s.resetLocked()
			return fmt.Errorf("%w: %w: %v", types.ErrSessionLost, ErrHandshakeFailed, r.err)
		}
		s.state = Connected
		s.sessionID = r.sessionID
		s.uri = r.uri
		s.lastBeat = s.now()
		s.logger.Info("Chroma session established", "session_id", r.sessionID, "uri", r.uri)
	case heartbeatDone:
		s.beating = false
		if r.err != nil {
			s.resetLocked()
			return fmt.Errorf("%w: %w: %v", types.ErrSessionLost, ErrHeartbeatFailed, r.err)
		}
	}
	return nil
}

// Disconnect ends the session. An in-flight handshake is cancelled. Any
// session the service handed out, applied or not, gets its DELETE sent in
// the background.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Disconnected:
		return nil
	case Connecting:
		// the service may already have accepted a handshake Update has not applied
		for _, r := range s.pending {
			if r.attempt == s.attempt && r.kind == handshakeDone && r.err == nil {
				s.releaseAsync(r.uri)
			}
		}
	case Connected:
		s.releaseAsync(s.uri)
	}
	s.resetLocked()
	return nil
}

func (s *Session) releaseAsync(uri string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.uninit(uri)
	}()
}

// Wait blocks until every background request has finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id handed out by the service, 0 when not connected.
func (s *Session) SessionID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) resetLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.state = Disconnected
	s.attempt = uuid.Nil
	s.ctx, s.cancel = nil, nil
	s.sessionID = 0
	s.uri = ""
	s.beating = false
	s.pending = nil
}

// post queues r for Update. It reports false when the attempt is over.
func (s *Session) post(r result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.attempt != s.attempt {
		return false
	}
	s.pending = append(s.pending, r)
	return true
}

func (s *Session) handshake(ctx context.Context, attempt uuid.UUID, body []byte) {
	defer s.inflight.Done()

	var resp struct {
		SessionID int    `json:"sessionid"`
		URI       string `json:"uri"`
		Result    *int   `json:"result"`
	}
	err := s.call(ctx, "init", http.MethodPost, s.cfg.BaseURL+"/razer/chromasdk", body, &resp)
	if err == nil && resp.URI == "" {
		code := -1
		if resp.Result != nil {
			code = *resp.Result
		}
		err = fmt.Errorf("no session uri in response (result %d)", code)
	}
	if err != nil {
		s.logger.Warn("Chroma handshake failed", "attempt", attempt.String(), "error", err)
	}
	r := result{attempt: attempt, kind: handshakeDone, sessionID: resp.SessionID, uri: resp.URI, err: err}
	if !s.post(r) && err == nil {
		// accepted after Disconnect or a newer Connect; nobody else knows the uri
		s.logger.Debug("Releasing abandoned Chroma session", "attempt", attempt.String(), "uri", resp.URI)
		s.uninit(resp.URI)
	}
}

func (s *Session) heartbeat(ctx context.Context, attempt uuid.UUID, uri string) {
	defer s.inflight.Done()

	var resp struct {
		Tick int `json:"tick"`
	}
	err := s.call(ctx, "heartbeat", http.MethodPut, uri+"/heartbeat", nil, &resp)
	if err != nil {
		s.logger.Warn("Chroma heartbeat failed", "error", err)
	}
	s.post(result{attempt: attempt, kind: heartbeatDone, err: err})
}

func (s *Session) uninit(uri string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	if err := s.call(ctx, "uninit", http.MethodDelete, uri, nil, nil); err != nil {
		s.logger.Warn("Chroma uninit failed", "error", err)
		return
	}
	s.logger.Info("Chroma session closed", "uri", uri)
}

// call performs one request, records it and decodes a JSON response into out.
func (s *Session) call(ctx context.Context, op, method, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.tracker.TrackFailure(serviceName, s.cfg.BaseURL, op, latency, err.Error())
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		errorMsg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		s.tracker.TrackFailure(serviceName, s.cfg.BaseURL, op, latency, errorMsg)
		return fmt.Errorf("%s: %s", op, errorMsg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.tracker.TrackFailure(serviceName, s.cfg.BaseURL, op, latency, err.Error())
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}

	s.tracker.TrackSuccess(serviceName, s.cfg.BaseURL, op, latency)
	return nil
}
