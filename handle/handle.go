// Package handle provides non-owning references to host-owned entities.
//
// The host owns a Lifetime per entity and calls Destroy when the entity goes
// away. Handles minted from that Lifetime turn invalid at once; nobody has to
// tell the registry.
package handle

import (
	"sync/atomic"

	"github.com/st-keller/chroma-scheduler/types"
)

// Lifetime is the liveness token of one host entity.
type Lifetime struct {
	gen    atomic.Uint64
	entity types.Updatable
}

// NewLifetime creates a live token for entity.
func NewLifetime(entity types.Updatable) *Lifetime {
	if entity == nil {
		panic("handle.NewLifetime: entity required")
	}
	return &Lifetime{entity: entity}
}

// Handle mints a handle bound to the current generation. A handle minted
// after Destroy belongs to the next incarnation of the entity.
func (l *Lifetime) Handle() Handle {
	return Handle{life: l, gen: l.gen.Load()}
}

// Destroy invalidates every handle minted so far. Safe to call twice.
func (l *Lifetime) Destroy() {
	l.gen.Add(1)
}

// Handle is a weak reference: identity plus a generation snapshot.
// The zero value is invalid.
type Handle struct {
	life *Lifetime
	gen  uint64
}

// Valid reports whether the entity is still alive. O(1), no side effects.
func (h Handle) Valid() bool {
	return h.life != nil && h.life.gen.Load() == h.gen
}

// Entity returns the referenced entity if the handle is still valid.
func (h Handle) Entity() (types.Updatable, bool) {
	if !h.Valid() {
		return nil, false
	}
	return h.life.entity, true
}

// Same reports whether both handles point at the same entity.
func (h Handle) Same(other Handle) bool {
	return h.life != nil && h.life == other.life
}
