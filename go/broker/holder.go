// Package broker exposes the backend over HTTP and WebSocket: resource
// endpoints mapping 1:1 to backend primitives, a channel-multiplexed
// event stream, and memory watches with change-gated push.
package broker

import (
	"sync"

	"github.com/doscope/doscope/go/logx"
	"github.com/doscope/doscope/go/models"
)

// Factory builds a backend by kind ("qemu" or "dosbox").
type Factory func(kind string) (models.Backend, error)

// Holder is the process-wide slot for the selected backend. Handlers
// fetch through it on every request so a reseat takes effect
// immediately; nothing caches the backend across requests.
type Holder struct {
	mu      sync.RWMutex
	backend models.Backend
}

func (h *Holder) Get() models.Backend {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.backend
}

// Swap installs a new backend and returns the old one, which the caller
// owns (usually to shut it down).
func (h *Holder) Swap(b models.Backend) models.Backend {
	h.mu.Lock()
	old := h.backend
	h.backend = b
	h.mu.Unlock()
	return old
}

// Close shuts down and clears the held backend.
func (h *Holder) Close() {
	old := h.Swap(nil)
	if old != nil {
		if err := old.Shutdown(); err != nil {
			logx.Warnf("broker", "shutdown on close: %v", err)
		}
	}
}
