// Package hoststate provides the two host signals the dispatcher polls every tick.
package hoststate

import "sync/atomic"

// Signals is read once per tick and never cached.
type Signals interface {
	// Compiling reports that the host is reloading code; every entity
	// identity is about to become stale.
	Compiling() bool
	// Simulating reports that the host runs its live/played world.
	Simulating() bool
}

// Flags is a Signals backed by settable atomic booleans.
type Flags struct {
	compiling  atomic.Bool
	simulating atomic.Bool
}

// Compiling returns the last value set with SetCompiling.
func (f *Flags) Compiling() bool { return f.compiling.Load() }

// Simulating returns the last value set with SetSimulating.
func (f *Flags) Simulating() bool { return f.simulating.Load() }

// SetCompiling is called by the host when a reload starts or ends.
func (f *Flags) SetCompiling(v bool) { f.compiling.Store(v) }

// SetSimulating is called by the host when play mode starts or ends.
func (f *Flags) SetSimulating(v bool) { f.simulating.Store(v) }

// Funcs adapts two closures. A nil closure reads as false.
type Funcs struct {
	CompilingFn  func() bool
	SimulatingFn func() bool
}

// Compiling calls CompilingFn.
func (f Funcs) Compiling() bool {
	return f.CompilingFn != nil && f.CompilingFn()
}

// Simulating calls SimulatingFn.
func (f Funcs) Simulating() bool {
	return f.SimulatingFn != nil && f.SimulatingFn()
}
