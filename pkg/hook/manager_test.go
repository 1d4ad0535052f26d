package hook

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/memhost"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPlayer(t *testing.T) (*memhost.Heap, []*host.MethodDescriptor) {
	t.Helper()
	h := memhost.NewHeap(1 << 16)
	cls := h.Define("Game", &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "Player",
		Methods: []host.MethodDescriptor{
			{Name: "Update", Entry: 0x1000, Parameters: []host.Parameter{{Name: "dt", TypeName: "System.Single"}}},
			{Name: "Damage", Entry: 0x1100, ReturnTypeName: "System.Boolean", Parameters: []host.Parameter{
				{Name: "amount", TypeName: "System.Int32"},
				{Name: "source", TypeName: "System.String"},
			}},
			{Name: "Heal", Entry: 0x1200},
			{Name: "Spawn", Entry: 0x1300, IsStatic: true, Parameters: []host.Parameter{{Name: "id", TypeName: "System.Int32"}}},
			{Name: "Tick", Entry: 0x1400},
			{Name: "Abstract"},
		},
	})
	ms := make([]*host.MethodDescriptor, len(cls.Methods))
	for i := range cls.Methods {
		ms[i] = &cls.Methods[i]
	}
	return h, ms
}

type clocked struct {
	host.Interceptor
	mu sync.Mutex
	at []time.Time
}

func (c *clocked) Attach(m *host.MethodDescriptor, cb host.Callbacks) (host.Listener, error) {
	c.mu.Lock()
	c.at = append(c.at, time.Now())
	c.mu.Unlock()
	return c.Interceptor.Attach(m, cb)
}

type panicky struct {
	host.Interceptor
	name string
}

func (p panicky) Attach(m *host.MethodDescriptor, cb host.Callbacks) (host.Listener, error) {
	if m.Name == p.name {
		panic("interceptor crashed")
	}
	return p.Interceptor.Attach(m, cb)
}

func TestInstallCap(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)

	rep, err := mgr.Install(context.Background(), ms[:5], Callbacks{}, Options{MaxHooks: 3})
	require.NoError(t, err)
	assert.Len(t, rep.Installed, 3)
	assert.Len(t, rep.Skipped, 2)
	assert.Empty(t, rep.Failed)
	assert.Equal(t, []*host.MethodDescriptor{ms[3], ms[4]}, rep.Skipped)
	assert.Equal(t, 3, mgr.Active())
	assert.Len(t, h.Attaches(), 3)

	rep, err = mgr.Install(context.Background(), ms[3:5], Callbacks{}, Options{MaxHooks: 3})
	require.NoError(t, err)
	assert.Empty(t, rep.Installed, "budget is shared across installs")
	assert.Len(t, rep.Skipped, 2)

	require.NoError(t, rep0(t, mgr).Detach())
	rep, err = mgr.Install(context.Background(), ms[3:5], Callbacks{}, Options{MaxHooks: 3})
	require.NoError(t, err)
	assert.Len(t, rep.Installed, 1, "detaching frees budget")
	mgr.DetachAll()
}

func rep0(t *testing.T, mgr *Manager) *Handle {
	t.Helper()
	hs := mgr.Handles()
	require.NotEmpty(t, hs)
	return hs[0]
}

func TestInstallDelay(t *testing.T) {
	h, ms := newPlayer(t)
	ic := &clocked{Interceptor: h}
	mgr := NewManager(ic, nil)
	const delay = 20 * time.Millisecond

	rep, err := mgr.Install(context.Background(), ms, Callbacks{}, Options{Delay: delay})
	require.NoError(t, err)
	assert.Len(t, rep.Installed, 5)
	require.Len(t, rep.Failed, 1)
	assert.ErrorIs(t, rep.Failed[0].Err, ErrInvalidEntry)

	require.Len(t, ic.at, 5, "methods without an entry are never attached")
	for i := 1; i < len(ic.at); i++ {
		if gap := ic.at[i].Sub(ic.at[i-1]); gap < delay {
			t.Errorf("attach %d followed attach %d after %v, want at least %v", i, i-1, gap, delay)
		}
	}
	mgr.DetachAll()
}

func TestConcurrentInstallsShareCapAndDelay(t *testing.T) {
	h, ms := newPlayer(t)
	ic := &clocked{Interceptor: h}
	mgr := NewManager(ic, nil)
	const delay = 20 * time.Millisecond
	opts := Options{MaxHooks: 3, Delay: delay}

	var wg sync.WaitGroup
	reps := make([]*Report, 2)
	for i, batch := range [][]*host.MethodDescriptor{ms[:3], ms[3:5]} {
		wg.Add(1)
		go func(i int, batch []*host.MethodDescriptor) {
			defer wg.Done()
			rep, err := mgr.Install(context.Background(), batch, Callbacks{}, opts)
			assert.NoError(t, err)
			reps[i] = rep
		}(i, batch)
	}
	wg.Wait()

	installed, skipped := 0, 0
	for _, rep := range reps {
		require.NotNil(t, rep)
		installed += len(rep.Installed)
		skipped += len(rep.Skipped)
	}
	assert.Equal(t, 3, installed)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, 3, mgr.Active())

	require.Len(t, ic.at, 3)
	for i := 1; i < len(ic.at); i++ {
		if gap := ic.at[i].Sub(ic.at[i-1]); gap < delay {
			t.Errorf("attach %d followed attach %d after %v, want at least %v", i, i-1, gap, delay)
		}
	}
	mgr.DetachAll()
}

func TestInstallNilEntry(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)

	rep, err := mgr.Install(context.Background(), []*host.MethodDescriptor{nil, ms[0]}, Callbacks{}, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)
	assert.Nil(t, rep.Failed[0].Method)
	assert.ErrorIs(t, rep.Failed[0].Err, ErrInvalidEntry)
	assert.Len(t, rep.Installed, 1)
	mgr.DetachAll()
}

func TestInstallCancel(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rep, err := mgr.Install(ctx, ms[:3], Callbacks{}, Options{Delay: time.Hour})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, rep)
	assert.Len(t, rep.Installed, 1)
	assert.Equal(t, []*host.MethodDescriptor{ms[1], ms[2]}, rep.Skipped)
	mgr.DetachAll()
}

func TestInstallFailures(t *testing.T) {
	h, ms := newPlayer(t)
	h.FailAttach("Damage")
	mgr := NewManager(panicky{Interceptor: h, name: "Heal"}, nil)

	rep, err := mgr.Install(context.Background(), ms, Callbacks{}, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Failed, 3)
	assert.ErrorIs(t, rep.Failed[0].Err, memhost.ErrInjected)
	assert.True(t, safe.IsPanic(rep.Failed[1].Err))
	assert.ErrorIs(t, rep.Failed[2].Err, ErrInvalidEntry)
	assert.Len(t, rep.Installed, 3)

	st := mgr.Stats()
	assert.Equal(t, int64(3), st.Installed)
	assert.Equal(t, int64(3), st.InstallFailures)
	assert.Equal(t, 3, st.Active)
	mgr.DetachAll()
}

func TestCallContext(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	damage, spawn := ms[1], ms[3]

	var got []*Call
	var mu sync.Mutex
	cb := Callbacks{
		OnEnter: func(c *Call) error {
			c.Data = c.Args[0].Raw
			return nil
		},
		OnLeave: func(c *Call, ret *host.Return) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
			if c.Method.Name == "Damage" {
				ret.Replace(0)
			}
		},
	}
	_, err := mgr.Install(context.Background(), []*host.MethodDescriptor{damage, spawn}, cb, Options{})
	require.NoError(t, err)

	out := h.Invoke(7, damage, 1, 0xAAA0, 25, 0xBBB0)
	assert.Equal(t, host.Pointer(0), out, "leave callback replaced the return value")
	h.Invoke(7, spawn, 0, 42)

	require.Len(t, got, 2)
	c := got[0]
	assert.True(t, c.HasReceiver)
	assert.Equal(t, host.Pointer(0xAAA0), c.Receiver)
	assert.Equal(t, []Arg{
		{Name: "amount", TypeName: "System.Int32", Raw: 25},
		{Name: "source", TypeName: "System.String", Raw: 0xBBB0},
	}, c.Args)
	assert.Equal(t, host.Pointer(25), c.Data)
	assert.Equal(t, host.Pointer(1), c.Return)
	assert.Equal(t, uint64(7), c.ThreadID)

	s := got[1]
	assert.False(t, s.HasReceiver)
	assert.Equal(t, host.Pointer(42), s.Args[0].Raw)
	mgr.DetachAll()
}

func TestConcurrentCalls(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	update := ms[0]

	var mismatches atomic.Int64
	cb := Callbacks{
		OnEnter: func(c *Call) error {
			c.Data = c.Args[0].Raw
			return nil
		},
		OnLeave: func(c *Call, ret *host.Return) {
			if c.Data != c.Args[0].Raw || host.Pointer(c.ThreadID) != c.Args[0].Raw {
				mismatches.Add(1)
			}
		},
	}
	_, err := mgr.Install(context.Background(), []*host.MethodDescriptor{update}, cb, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for th := uint64(1); th <= 8; th++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				// Re-entrant call on the same thread.
				h.InvokeFunc(th, update, func(...host.Pointer) host.Pointer {
					return h.Invoke(th, update, 0, 0x1, host.Pointer(th))
				}, 0x1, host.Pointer(th))
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, mismatches.Load())
	assert.Equal(t, int64(1600), mgr.Stats().Invocations)
	assert.Equal(t, int64(1600), mgr.Handles()[0].Hits())
	mgr.DetachAll()
}

func TestCallbackFailureIsolation(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	update, heal := ms[0], ms[2]

	var left atomic.Int64
	cb := Callbacks{
		OnEnter: func(c *Call) error {
			switch c.Method.Name {
			case "Update":
				panic("consumer bug")
			case "Heal":
				return errors.New("declined")
			}
			return nil
		},
		OnLeave: func(c *Call, ret *host.Return) { left.Add(1) },
	}
	rep, err := mgr.Install(context.Background(), []*host.MethodDescriptor{update, heal, ms[4]}, cb, Options{})
	require.NoError(t, err)
	assert.Len(t, rep.Installed, 3, "a failing consumer does not block later installs")

	assert.NotPanics(t, func() { h.Invoke(1, update, 5, 0x10, 1) })
	assert.Equal(t, host.Pointer(9), h.Invoke(1, heal, 9, 0x10))
	h.Invoke(1, ms[4], 0, 0x10)

	assert.Equal(t, int64(1), left.Load(), "leave runs only for calls whose enter succeeded")
	st := mgr.Stats()
	assert.Equal(t, int64(2), st.CallbackFailures)
	assert.Equal(t, int64(3), st.Invocations)
	assert.Equal(t, Active, rep.Installed[0].State(), "failing hooks stay installed")
	assert.Equal(t, int64(1), rep.Installed[0].Failures())
	mgr.DetachAll()
}

func TestLeavePanic(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	_, err := mgr.Install(context.Background(), ms[:1], Callbacks{
		OnLeave: func(c *Call, ret *host.Return) { panic("leave bug") },
	}, Options{})
	require.NoError(t, err)

	assert.NotPanics(t, func() { h.Invoke(1, ms[0], 3, 0x10, 1) })
	assert.Equal(t, int64(1), mgr.Stats().CallbackFailures)
	mgr.DetachAll()
}

func TestDetach(t *testing.T) {
	h, ms := newPlayer(t)
	mgr := NewManager(h, nil)
	rep, err := mgr.Install(context.Background(), ms[:3], Callbacks{}, Options{})
	require.NoError(t, err)
	require.Len(t, rep.Installed, 3)

	first := rep.Installed[0]
	require.NoError(t, first.Detach())
	assert.Equal(t, Detached, first.State())
	assert.NoError(t, first.Detach(), "detach is idempotent")
	assert.Equal(t, 0, h.Listeners(ms[0]))
	assert.Equal(t, 2, mgr.Active())

	h.Unload(ms[1])
	assert.Equal(t, 2, mgr.DetachAll(), "unload failures are swallowed")
	assert.Equal(t, 0, mgr.Active())
	for _, hd := range rep.Installed {
		assert.Equal(t, Detached, hd.State())
	}
	assert.Equal(t, 0, h.Listeners(ms[2]))
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Planned, Installing, true},
		{Installing, Active, true},
		{Installing, FailedInstall, true},
		{Active, Detached, true},
		{FailedInstall, Installing, false},
		{Planned, Active, false},
		{Detached, Active, false},
		{Active, Installing, false},
	}
	for _, tt := range tests {
		err := checkTransition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: got %v, want nil", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> %s: got %v, want ErrIllegalTransition", tt.from, tt.to, err)
		}
	}

	hd := newHandle(nil, &host.MethodDescriptor{Name: "X"})
	assert.ErrorIs(t, hd.Detach(), ErrIllegalTransition, "a planned handle cannot be detached")
}
