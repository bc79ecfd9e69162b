// Package registry keeps the ordered set of entities that get ticked.
package registry

import (
	"slices"
	"sync"

	"github.com/st-keller/chroma-scheduler/handle"
	"github.com/st-keller/chroma-scheduler/types"
)

// Registry holds weak handles in insertion order (= tick order).
// Invalid entries are dropped by whichever traversal finds them first.
type Registry struct {
	mu      sync.Mutex
	entries []handle.Handle
	epoch   uint64 // bumped by Drain
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make([]handle.Handle, 0, 8),
	}
}

// AddIfAbsent appends h unless an entry with the same identity exists.
// Invalid entries passed during the search are removed. Returns true if h was added.
func (r *Registry) AddIfAbsent(h handle.Handle) bool {
	if !h.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := 0
	for i < len(r.entries) {
		entry := r.entries[i]
		if !entry.Valid() {
			r.entries = slices.Delete(r.entries, i, i+1)
			continue
		}
		if entry.Same(h) {
			return false
		}
		i++
	}

	r.entries = append(r.entries, h)
	return true
}

// TickAll calls fn once for every valid entry, in insertion order, and
// removes invalid ones in place. Returns the number of entities ticked.
//
// fn runs without the lock held, so fn may call AddIfAbsent; entries added
// that way are ticked on the next traversal. A Drain during the traversal
// ends it: drained entities are never ticked after their unload.
func (r *Registry) TickAll(fn func(types.Updatable)) int {
	r.mu.Lock()
	live := r.compactLocked()
	epoch := r.epoch
	r.mu.Unlock()

	ticked := 0
	for _, h := range live {
		if r.drainedSince(epoch) {
			break
		}
		// may have died while earlier entities ticked
		entity, ok := h.Entity()
		if !ok {
			continue
		}
		fn(entity)
		ticked++
	}
	return ticked
}

// PurgeInvalid drops every invalid entry. Returns the number removed.
func (r *Registry) PurgeInvalid() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.entries)
	r.compactLocked()
	return before - len(r.entries)
}

// Drain calls fn for every valid entry and leaves the registry empty.
// Used when every handle is about to go stale at once (recompile, teardown).
func (r *Registry) Drain(fn func(types.Updatable)) int {
	r.mu.Lock()
	live := r.compactLocked()
	r.entries = r.entries[:0]
	r.epoch++
	r.mu.Unlock()

	visited := 0
	for _, h := range live {
		entity, ok := h.Entity()
		if !ok {
			continue
		}
		if fn != nil {
			fn(entity)
		}
		visited++
	}
	return visited
}

func (r *Registry) drainedSince(epoch uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch != epoch
}

// Len returns the number of entries, valid or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// compactLocked walks entries by index, removing invalid slots without
// advancing, and returns a copy of what survived.
func (r *Registry) compactLocked() []handle.Handle {
	i := 0
	for i < len(r.entries) {
		if !r.entries[i].Valid() {
			r.entries = slices.Delete(r.entries, i, i+1)
			continue
		}
		i++
	}
	return slices.Clone(r.entries)
}
