// Package lifecycle translates host editing events into registry and
// dispatcher operations.
package lifecycle

import (
	"github.com/st-keller/chroma-scheduler/dispatch"
	"github.com/st-keller/chroma-scheduler/handle"
	"github.com/st-keller/chroma-scheduler/registry"
	"github.com/st-keller/chroma-scheduler/types"
)

// Hooks are called by the host on its own thread.
type Hooks struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	logger     types.Logger
}

// New creates Hooks over reg and d.
func New(reg *registry.Registry, d *dispatch.Dispatcher, logger types.Logger) *Hooks {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Hooks{registry: reg, dispatcher: d, logger: logger}
}

// OnActivated tracks the entity and makes sure ticking runs.
// Repeating it for the same entity changes nothing.
func (h *Hooks) OnActivated(entity handle.Handle) {
	if h.registry.AddIfAbsent(entity) {
		h.logger.Debug("Entity tracked", "tracked", h.registry.Len())
	}
	h.dispatcher.Start()
}

// OnInspected tracks the entity without starting the dispatcher. The host
// calls it on every repaint of an inspector.
func (h *Hooks) OnInspected(entity handle.Handle) {
	if h.registry.AddIfAbsent(entity) {
		h.logger.Debug("Entity tracked", "tracked", h.registry.Len())
	}
}

// OnTeardown runs the full shutdown when the host goes away.
func (h *Hooks) OnTeardown() {
	h.dispatcher.Shutdown("teardown")
}
