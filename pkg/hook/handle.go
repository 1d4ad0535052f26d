package hook

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
)

// Handle is one planned or installed interception.
type Handle struct {
	ID     uuid.UUID
	Method *host.MethodDescriptor

	mgr      *Manager
	mu       sync.Mutex
	state    State
	listener host.Listener

	hits     atomic.Int64
	failures atomic.Int64
}

func newHandle(mgr *Manager, m *host.MethodDescriptor) *Handle {
	return &Handle{ID: uuid.New(), Method: m, mgr: mgr, state: Planned}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Hits returns the number of intercepted calls.
func (h *Handle) Hits() int64 { return h.hits.Load() }

// Failures returns the number of consumer callback failures.
func (h *Handle) Failures() int64 { return h.failures.Load() }

func (h *Handle) transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(to)
}

func (h *Handle) transitionLocked(to State) error {
	if err := checkTransition(h.state, to); err != nil {
		return err
	}
	h.state = to
	return nil
}

// Detach removes the interception. Detaching a detached handle is a no-op.
// The handle is Detached afterwards even if the host reported an error, since
// the listener may already be gone with its target.
func (h *Handle) Detach() error {
	h.mu.Lock()
	if h.state == Detached {
		h.mu.Unlock()
		return nil
	}
	if err := h.transitionLocked(Detached); err != nil {
		h.mu.Unlock()
		return err
	}
	l := h.listener
	h.listener = nil
	h.mu.Unlock()

	if h.mgr != nil {
		h.mgr.forget(h)
	}
	if l == nil {
		return nil
	}
	err := safe.Call(l.Detach)
	if err != nil {
		return fmt.Errorf("hook: detach %s: %w", h.Method.FullName(), err)
	}
	return nil
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s[%s %s]", h.Method.FullName(), h.ID, h.State())
}
