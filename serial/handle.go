package serial

import "sync"

// Handle is the exclusively-owned serial port slot. The port is only reachable
// through Do, which holds the lock for exactly one operation, so a reader and
// a writer never interleave on the device and neither holds it across a sleep.
type Handle struct {
	mu   sync.Mutex
	port Port
}

// NewHandle returns an empty (disconnected) handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Set installs a freshly opened port, closing any previous one.
func (h *Handle) Set(p Port) {
	h.mu.Lock()
	old := h.port
	h.port = p
	h.mu.Unlock()

	if old != nil && old != p {
		old.Close()
	}
}

// Clear closes and removes the current port, if any.
func (h *Handle) Clear() {
	h.Set(nil)
}

// Connected reports whether a port is installed.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port != nil
}

// Do runs op against the port under the lock.
func (h *Handle) Do(op func(Port) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.port == nil {
		return ErrNotConnected
	}
	return op(h.port)
}
