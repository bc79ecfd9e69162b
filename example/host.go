package main

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	scheduler "github.com/st-keller/chroma-scheduler"
	"github.com/st-keller/chroma-scheduler/handle"
	"github.com/st-keller/chroma-scheduler/hoststate"
	"github.com/st-keller/chroma-scheduler/types"
)

// glow is a demo animation: it counts frames and reports when it is unloaded.
type glow struct {
	id     string
	logger types.Logger
	frames atomic.Uint64
}

func (g *glow) Tick() {
	g.frames.Add(1)
}

func (g *glow) Unload() {
	g.logger.Info("Animation unloaded", "entity", g.id, "frames", g.frames.Load())
}

type entity struct {
	life *handle.Lifetime
	anim *glow
}

// host plays the editor: it owns entity lifetimes and the simulation flag.
type host struct {
	session *scheduler.Session
	flags   *hoststate.Flags
	signals hoststate.Signals

	mu        sync.Mutex
	entities  map[string]entity
	compiling bool
}

func newHost(session *scheduler.Session, flags *hoststate.Flags, signals hoststate.Signals) *host {
	return &host{
		session:  session,
		flags:    flags,
		signals:  signals,
		entities: make(map[string]entity),
	}
}

// onFrame is the editor's own per-frame callback. A compile drains the
// session; once it is over every entity still alive is enabled again.
func (h *host) onFrame() {
	compiling := h.signals.Compiling()

	h.mu.Lock()
	finished := h.compiling && !compiling
	h.compiling = compiling
	var live []*handle.Lifetime
	if finished {
		for _, e := range h.entities {
			live = append(live, e.life)
		}
	}
	h.mu.Unlock()

	if !finished {
		return
	}
	h.session.Logs().Info("Compile finished, re-enabling entities", "entities", len(live))
	for _, life := range live {
		h.session.Activate(life.Handle())
	}
}

// spawn creates an entity and activates it.
func (h *host) spawn() string {
	id := uuid.NewString()
	anim := &glow{id: id, logger: h.session.Logs()}
	life := handle.NewLifetime(anim)

	h.mu.Lock()
	h.entities[id] = entity{life: life, anim: anim}
	h.mu.Unlock()

	h.session.Activate(life.Handle())
	return id
}

// destroy ends the entity's lifetime. The registry notices on its next pass.
func (h *host) destroy(id string) bool {
	h.mu.Lock()
	e, ok := h.entities[id]
	delete(h.entities, id)
	h.mu.Unlock()

	if ok {
		e.life.Destroy()
	}
	return ok
}

func (h *host) snapshot() map[string]uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]uint64, len(h.entities))
	for id, e := range h.entities {
		out[id] = e.anim.frames.Load()
	}
	return out
}
