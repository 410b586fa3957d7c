package transport

import (
	"fmt"
	"sync"
)

// Factory builds the transport. It is called lazily, on first use.
type Factory func() (Transport, error)

// Handle owns the one transport instance shared by every session in the
// process. Construction happens once; a failed construction is retried on
// the next Get.
type Handle struct {
	mu      sync.Mutex
	factory Factory
	t       Transport
}

func NewHandle(factory Factory) *Handle {
	return &Handle{factory: factory}
}

// HandleFor wraps an already constructed transport.
func HandleFor(t Transport) *Handle {
	return &Handle{t: t}
}

func (h *Handle) Get() (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil {
		return h.t, nil
	}
	if h.factory == nil {
		return nil, fmt.Errorf("transport not configured")
	}
	t, err := h.factory()
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	h.t = t
	return t, nil
}
