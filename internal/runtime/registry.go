package runtime

import (
	"fmt"
	"sync"

	errspkg "github.com/drblury/botflow/internal/runtime/errors"
	"github.com/drblury/botflow/internal/runtime/handlers"
)

type registeredHandler struct {
	handler handlers.Handler
	name    string
	stats   *HandlerStats
}

// HandlerRegistry is the ordered handler chain shared by every bot.
// Registration order is dispatch order. Building a dispatcher seals it.
type HandlerRegistry struct {
	mu      sync.RWMutex
	entries []*registeredHandler
	names   map[string]int
	sealed  bool
	sampler *resourceTracker
}

// NewHandlerRegistry returns an empty, unsealed registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		names:   make(map[string]int),
		sampler: newResourceTracker(),
	}
}

// Register appends h to the chain.
func (r *HandlerRegistry) Register(h handlers.Handler) error {
	if h == nil {
		return errspkg.ErrHandlerRequired
	}
	name := h.Name()
	if name == "" {
		return errspkg.ErrHandlerNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errspkg.ErrRegistrySealed
	}
	if pos, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %q at position %d", errspkg.ErrDuplicateHandler, name, pos)
	}
	r.names[name] = len(r.entries)
	r.entries = append(r.entries, &registeredHandler{
		handler: h,
		name:    name,
		stats:   newHandlerStats(r.sampler),
	})
	return nil
}

// Seal makes the registry read-only. It is idempotent.
func (r *HandlerRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *HandlerRegistry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Handlers lists the chain in dispatch order together with live stats.
func (r *HandlerRegistry) Handlers() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]HandlerInfo, len(r.entries))
	for i, e := range r.entries {
		out[i] = HandlerInfo{Name: e.name, Position: i, Stats: e.stats}
	}
	return out
}

// Stats returns the stats of the named handler.
func (r *HandlerRegistry) Stats(name string) (*HandlerStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.entries[pos].stats, true
}

// sealAndSnapshot seals the registry and returns the chain. The returned
// slice is never appended to again.
func (r *HandlerRegistry) sealAndSnapshot() []*registeredHandler {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	return r.entries[:len(r.entries):len(r.entries)]
}
