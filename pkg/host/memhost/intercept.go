package memhost

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/daimatz/goprobe/pkg/host"
)

// ErrDetached is returned when detaching a listener twice or after its
// target was unloaded.
var ErrDetached = errors.New("memhost: listener already detached")

type hooks struct {
	mu       sync.RWMutex
	byEntry  map[host.Pointer][]*listener
	unloaded map[host.Pointer]bool
	attaches []host.Pointer
	frames   atomic.Uint64
}

func (hk *hooks) init() {
	hk.byEntry = make(map[host.Pointer][]*listener)
	hk.unloaded = make(map[host.Pointer]bool)
}

type listener struct {
	hooks    *hooks
	entry    host.Pointer
	cb       host.Callbacks
	detached atomic.Bool
}

func (l *listener) Detach() error {
	if !l.detached.CompareAndSwap(false, true) {
		return ErrDetached
	}
	l.hooks.mu.Lock()
	defer l.hooks.mu.Unlock()
	if l.hooks.unloaded[l.entry] {
		return fmt.Errorf("detach %s: target unloaded: %w", l.entry, ErrDetached)
	}
	ls := l.hooks.byEntry[l.entry]
	for i, other := range ls {
		if other == l {
			l.hooks.byEntry[l.entry] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	return nil
}

// Attach implements host.Interceptor.
func (h *Heap) Attach(m *host.MethodDescriptor, cb host.Callbacks) (host.Listener, error) {
	if err := h.faults.attachFault(m.Name); err != nil {
		return nil, err
	}
	if !m.Hookable() {
		return nil, fmt.Errorf("memhost: attach %s: %w", m.FullName(), host.ErrBadAddress)
	}
	l := &listener{hooks: &h.hooks, entry: m.Entry, cb: cb}
	h.hooks.mu.Lock()
	h.hooks.byEntry[m.Entry] = append(h.hooks.byEntry[m.Entry], l)
	h.hooks.attaches = append(h.hooks.attaches, m.Entry)
	h.hooks.mu.Unlock()
	return l, nil
}

// Listeners returns the number of listeners attached to m.
func (h *Heap) Listeners(m *host.MethodDescriptor) int {
	h.hooks.mu.RLock()
	defer h.hooks.mu.RUnlock()
	return len(h.hooks.byEntry[m.Entry])
}

// Attaches returns the entry addresses passed to successful Attach calls, in order.
func (h *Heap) Attaches() []host.Pointer {
	h.hooks.mu.RLock()
	defer h.hooks.mu.RUnlock()
	out := make([]host.Pointer, len(h.hooks.attaches))
	copy(out, h.hooks.attaches)
	return out
}

// Unload simulates the code of m being unmapped. Listeners are dropped and
// later Detach calls on them fail.
func (h *Heap) Unload(m *host.MethodDescriptor) {
	h.hooks.mu.Lock()
	h.hooks.unloaded[m.Entry] = true
	delete(h.hooks.byEntry, m.Entry)
	h.hooks.mu.Unlock()
}

// Invoke simulates a call of m on the given thread that returns ret. It
// returns the value seen by the caller, which a listener may have replaced.
func (h *Heap) Invoke(thread uint64, m *host.MethodDescriptor, ret host.Pointer, args ...host.Pointer) host.Pointer {
	return h.InvokeFunc(thread, m, func(...host.Pointer) host.Pointer { return ret }, args...)
}

// InvokeFunc is Invoke with a body that runs between the enter and leave
// callbacks, so that nested and re-entrant calls can be simulated.
func (h *Heap) InvokeFunc(thread uint64, m *host.MethodDescriptor, body func(args ...host.Pointer) host.Pointer, args ...host.Pointer) host.Pointer {
	h.hooks.mu.RLock()
	ls := append([]*listener(nil), h.hooks.byEntry[m.Entry]...)
	h.hooks.mu.RUnlock()

	inv := &host.Invocation{
		ThreadID: thread,
		FrameID:  h.hooks.frames.Add(1),
		Args:     args,
	}
	for _, l := range ls {
		if l.cb.OnEnter != nil && !l.detached.Load() {
			l.cb.OnEnter(inv)
		}
	}
	ret := &host.Return{Value: body(args...)}
	for i := len(ls) - 1; i >= 0; i-- {
		if l := ls[i]; l.cb.OnLeave != nil && !l.detached.Load() {
			l.cb.OnLeave(inv, ret)
		}
	}
	if v, ok := ret.Replacement(); ok {
		return v
	}
	return ret.Value
}
