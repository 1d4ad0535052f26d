package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
)

// Callbacks are the consumer's interception hooks. Both may be nil. A panic
// or an error from OnEnter is recorded as a callback failure and leaves the
// call without a context, so OnLeave is skipped for it.
type Callbacks struct {
	OnEnter func(c *Call) error
	OnLeave func(c *Call, ret *host.Return)
}

// Options pace and cap an installation.
type Options struct {
	// Delay separates successive attach calls.
	Delay time.Duration
	// MaxHooks caps the active handles of the manager; zero means no cap.
	MaxHooks int
}

// Failure is a method that could not be hooked.
type Failure struct {
	Method *host.MethodDescriptor
	Err    error
}

// Report is the outcome of one Install.
type Report struct {
	Installed []*Handle
	Failed    []Failure
	// Skipped methods were left unhooked by the cap or by cancellation.
	Skipped []*host.MethodDescriptor
}

// Stats are cumulative manager counters.
type Stats struct {
	Installed        int64
	Active           int
	InstallFailures  int64
	CallbackFailures int64
	Invocations      int64
}

// Manager owns every handle it installs.
type Manager struct {
	ic  host.Interceptor
	log *zap.Logger

	// installing serializes Install; lastAttach is guarded by it.
	installing chan struct{}
	lastAttach time.Time

	mu     sync.Mutex
	active []*Handle

	calls sync.Map // callKey -> *Call

	installed        atomic.Int64
	installFailures  atomic.Int64
	callbackFailures atomic.Int64
	invocations      atomic.Int64
}

// NewManager creates a Manager installing through ic.
func NewManager(ic host.Interceptor, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{ic: ic, log: log, installing: make(chan struct{}, 1)}
}

// Install hooks methods one at a time in order, waiting opts.Delay between
// attach calls. Concurrent installs on one manager run one after another and
// share the delay and the hook budget. Methods beyond the budget are skipped,
// not failed. When ctx is cancelled the remaining methods are skipped and
// ctx.Err() is returned along with the partial report.
func (m *Manager) Install(ctx context.Context, methods []*host.MethodDescriptor, cb Callbacks, opts Options) (*Report, error) {
	q := queue.New()
	for _, md := range methods {
		q.Add(md)
	}
	rep := &Report{}
	select {
	case m.installing <- struct{}{}:
		defer func() { <-m.installing }()
	case <-ctx.Done():
		return m.cancel(rep, nil, q, ctx.Err())
	}

	for q.Length() > 0 {
		md, _ := q.Remove().(*host.MethodDescriptor)
		if err := ctx.Err(); err != nil {
			return m.cancel(rep, md, q, err)
		}
		if md == nil {
			rep.Failed = append(rep.Failed, Failure{Err: fmt.Errorf("%w: nil method", ErrInvalidEntry)})
			m.installFailures.Add(1)
			continue
		}
		if opts.MaxHooks > 0 && m.Active() >= opts.MaxHooks {
			rep.Skipped = append(rep.Skipped, md)
			continue
		}
		if md.Hookable() && opts.Delay > 0 && !m.lastAttach.IsZero() {
			if err := sleep(ctx, time.Until(m.lastAttach.Add(opts.Delay))); err != nil {
				return m.cancel(rep, md, q, err)
			}
		}
		h, err := m.install(md, cb)
		if err != nil {
			rep.Failed = append(rep.Failed, Failure{Method: md, Err: err})
			continue
		}
		rep.Installed = append(rep.Installed, h)
	}
	if len(rep.Skipped) > 0 {
		m.log.Warn("hook budget exhausted",
			zap.Int("max_hooks", opts.MaxHooks),
			zap.Int("skipped", len(rep.Skipped)))
	}
	m.log.Info("hooks installed",
		zap.Int("installed", len(rep.Installed)),
		zap.Int("failed", len(rep.Failed)),
		zap.Int("skipped", len(rep.Skipped)))
	return rep, nil
}

func (m *Manager) cancel(rep *Report, cur *host.MethodDescriptor, q *queue.Queue, err error) (*Report, error) {
	if cur != nil {
		rep.Skipped = append(rep.Skipped, cur)
	}
	for q.Length() > 0 {
		if md, _ := q.Remove().(*host.MethodDescriptor); md != nil {
			rep.Skipped = append(rep.Skipped, md)
		}
	}
	m.log.Warn("hook installation cancelled", zap.Int("skipped", len(rep.Skipped)), zap.Error(err))
	return rep, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) install(md *host.MethodDescriptor, cb Callbacks) (*Handle, error) {
	h := newHandle(m, md)
	if err := h.transition(Installing); err != nil {
		return nil, err
	}
	fail := func(err error) (*Handle, error) {
		_ = h.transition(FailedInstall)
		m.installFailures.Add(1)
		m.log.Warn("hook install failed", zap.String("method", md.FullName()), zap.Error(err))
		return nil, err
	}
	if !md.Hookable() {
		return fail(fmt.Errorf("%w: %s", ErrInvalidEntry, md.FullName()))
	}

	var l host.Listener
	err := safe.Call(func() error {
		var err error
		l, err = m.ic.Attach(md, host.Callbacks{
			OnEnter: m.onEnter(h, cb),
			OnLeave: m.onLeave(h, cb),
		})
		return err
	})
	m.lastAttach = time.Now()
	if err == nil && l == nil {
		err = errors.New("host returned no listener")
	}
	if err != nil {
		return fail(fmt.Errorf("hook: attach %s: %w", md.FullName(), err))
	}

	h.mu.Lock()
	h.listener = l
	err = h.transitionLocked(Active)
	h.mu.Unlock()
	if err != nil {
		_ = safe.Call(l.Detach)
		return nil, err
	}
	m.mu.Lock()
	m.active = append(m.active, h)
	m.mu.Unlock()
	m.installed.Add(1)
	m.log.Debug("hook installed", zap.String("method", md.FullName()), zap.Stringer("id", h.ID))
	return h, nil
}

func (m *Manager) onEnter(h *Handle, cb Callbacks) func(*host.Invocation) {
	return func(inv *host.Invocation) {
		err := safe.Call(func() error {
			m.invocations.Add(1)
			h.hits.Add(1)
			c := newCall(h.Method, inv)
			if cb.OnEnter != nil {
				if err := safe.Call(func() error { return cb.OnEnter(c) }); err != nil {
					return err
				}
			}
			m.calls.Store(callKey{hook: h, thread: inv.ThreadID, frame: inv.FrameID}, c)
			return nil
		})
		if err != nil {
			m.callbackFailed(h, "enter", err)
		}
	}
}

func (m *Manager) onLeave(h *Handle, cb Callbacks) func(*host.Invocation, *host.Return) {
	return func(inv *host.Invocation, ret *host.Return) {
		err := safe.Call(func() error {
			v, ok := m.calls.LoadAndDelete(callKey{hook: h, thread: inv.ThreadID, frame: inv.FrameID})
			if !ok {
				return nil
			}
			c := v.(*Call)
			c.Return = ret.Value
			if cb.OnLeave != nil {
				return safe.Do(func() { cb.OnLeave(c, ret) })
			}
			return nil
		})
		if err != nil {
			m.callbackFailed(h, "leave", err)
		}
	}
}

func (m *Manager) callbackFailed(h *Handle, phase string, err error) {
	h.failures.Add(1)
	m.callbackFailures.Add(1)
	m.log.Warn("hook callback failed",
		zap.String("method", h.Method.FullName()),
		zap.String("phase", phase),
		zap.Bool("panic", safe.IsPanic(err)),
		zap.Error(err))
}

func (m *Manager) forget(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.active {
		if a == h {
			m.active = append(m.active[:i:i], m.active[i+1:]...)
			return
		}
	}
}

// Active returns the number of active handles.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Handles returns the active handles in installation order.
func (m *Manager) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Handle(nil), m.active...)
}

// DetachAll detaches every active handle, logging and swallowing failures.
// It returns the number of handles detached.
func (m *Manager) DetachAll() int {
	hs := m.Handles()
	for _, h := range hs {
		if err := h.Detach(); err != nil {
			m.log.Warn("detach failed", zap.String("method", h.Method.FullName()), zap.Error(err))
		}
	}
	m.calls.Clear()
	return len(hs)
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Installed:        m.installed.Load(),
		Active:           m.Active(),
		InstallFailures:  m.installFailures.Load(),
		CallbackFailures: m.callbackFailures.Load(),
		Invocations:      m.invocations.Load(),
	}
}
