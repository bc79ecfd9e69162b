package update

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/chroma-scheduler/types"
)

// Source is the host's periodic tick event. Callbacks run one at a time,
// never overlapping.
type Source interface {
	Subscribe(fn func()) uuid.UUID
	Unsubscribe(id uuid.UUID) bool
}

type subscriber struct {
	id uuid.UUID
	fn func()
}

// Loop is a Source that fires its subscribers on a fixed interval.
type Loop struct {
	interval time.Duration
	logger   types.Logger

	mu   sync.Mutex
	subs []subscriber

	// fireMu serialises Step and the Run goroutine.
	fireMu sync.Mutex
	frames uint64
}

// NewLoop creates a Loop. Nothing fires until Run or Step is called.
func NewLoop(interval time.Duration, logger types.Logger) *Loop {
	if interval <= 0 {
		interval = Fast.Duration()
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Loop{
		interval: interval,
		logger:   logger,
	}
}

// Subscribe registers fn and returns the token used to unsubscribe.
func (l *Loop) Subscribe(fn func()) uuid.UUID {
	id := uuid.New()
	l.mu.Lock()
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	l.mu.Unlock()
	return id
}

// Unsubscribe removes the callback. Safe to call from inside a callback.
func (l *Loop) Unsubscribe(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of subscribers.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Frames returns the number of ticks fired so far.
func (l *Loop) Frames() uint64 {
	l.fireMu.Lock()
	defer l.fireMu.Unlock()
	return l.frames
}

// Run fires ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Debug("Tick loop started", "interval", l.interval.String())
	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("Tick loop stopped", "frames", l.Frames())
			return ctx.Err()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step fires one tick synchronously on the calling goroutine.
func (l *Loop) Step() {
	l.fireMu.Lock()
	defer l.fireMu.Unlock()

	l.mu.Lock()
	snapshot := make([]subscriber, len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		if !l.subscribed(s.id) {
			// unsubscribed by an earlier callback this frame
			continue
		}
		l.fire(s)
	}
	l.frames++
}

func (l *Loop) subscribed(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

func (l *Loop) fire(s subscriber) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Tick subscriber panicked", "subscriber", s.id.String(), "panic", r)
		}
	}()
	s.fn()
}
