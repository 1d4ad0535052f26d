package probe

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/daimatz/goprobe/internal/sample"
	"github.com/daimatz/goprobe/pkg/config"
	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/resolve"
)

func newSession(t *testing.T, mutate func(*config.Config)) (*Session, *sample.World) {
	t.Helper()
	w := sample.NewWorld()
	cfg := config.DefaultConfig()
	cfg.Hooks.Delay = "0s"
	if mutate != nil {
		mutate(cfg)
	}
	s := New(w, cfg, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, w
}

func TestResolveAndMethods(t *testing.T) {
	s, w := newSession(t, func(c *config.Config) {
		c.Target.FullName = "Game.Player"
		c.Methods.Exclude = []string{"Game.Player..ctor"}
	})

	res, err := s.ResolveConfigured()
	require.NoError(t, err)
	assert.Same(t, w.Player, res.Class)

	ms, err := s.ConfiguredMethods(res.Class)
	require.NoError(t, err)
	var names []string
	for _, m := range ms {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"get_Name", "Damage", "Update", "SetMode", "Spawn"}, names)

	ms = s.Methods(res.Class, resolve.MethodFilter{Contains: "Set"})
	require.Len(t, ms, 1)
	assert.Equal(t, "SetMode", ms[0].Name)
}

func TestResolveNotFoundLogsSuggestions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	w := sample.NewWorld()
	s := New(w, nil, zap.New(core))
	defer s.Close()

	_, err := s.Resolve(resolve.Target{ClassName: "player"})
	require.ErrorIs(t, err, resolve.ErrNotFound)

	entries := logs.FilterMessage("class not resolved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, []interface{}{"Game.Player"}, entries[0].ContextMap()["suggestions"])
}

func TestSessionRender(t *testing.T) {
	s, w := newSession(t, nil)
	p := w.NewPlayer("Alice", 90, 1<<33)

	out := s.Render(p, "Game.Player")
	assert.Contains(t, out, `Name: "Alice"`)
	assert.Contains(t, out, "hp: 90")
	assert.Contains(t, out, "mode: Normal")
	assert.Contains(t, out, "gold: 8589934592")
	assert.Contains(t, out, "inventory: Dictionary[2]")
	assert.Contains(t, out, "friends: List[0]")
	assert.Contains(t, out, "avatar: byte[256] (empty)")

	v := s.Decode(p, "Game.Player")
	fields := s.Fields(v)
	require.NotEmpty(t, fields)
	assert.Equal(t, "Name", fields[0].Name)
	assert.Equal(t, []string{"Name", "hp", "mode", "gold", "inventory", "friends", "avatar"}, s.PreviewFields(w.Player))
}

func TestSessionInt64Mode(t *testing.T) {
	s, w := newSession(t, func(c *config.Config) { c.Decode.Int64Mode = "both" })
	p := w.NewPlayer("Bob", 1, 4096)
	assert.Contains(t, s.Render(p, "Game.Player"), "gold: 4096 (0x1000)")
}

func TestDumpDedup(t *testing.T) {
	s, w := newSession(t, nil)
	p := w.NewPlayer("Alice", 90, 0)

	first, ok := s.Dump(p, "Game.Player")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(first, "Game.Player@"))
	_, ok = s.Dump(p, "Game.Player")
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.Stats().Dumped)

	s2, _ := newSession(t, func(c *config.Config) { c.Dump.Dedup = false })
	_, ok = s2.Dump(p, "Game.Player")
	assert.True(t, ok)
	_, ok = s2.Dump(p, "Game.Player")
	assert.True(t, ok)
}

func TestSessionHook(t *testing.T) {
	s, w := newSession(t, func(c *config.Config) { c.Hooks.MaxHooks = 3 })
	var methods []*host.MethodDescriptor
	for i := range 5 {
		methods = append(methods, &w.Player.Methods[i])
	}

	rep, err := s.Hook(context.Background(), methods, hook.Callbacks{})
	require.NoError(t, err)
	assert.Len(t, rep.Installed, 3)
	assert.Len(t, rep.Skipped, 2)
	assert.Equal(t, 3, s.Stats().Hooks.Active)
}

func TestCallRendering(t *testing.T) {
	s, w := newSession(t, nil)
	damage := w.Method(w.Player, "Damage")
	p := w.NewPlayer("Alice", 90, 0)

	var (
		mu   sync.Mutex
		args []RenderedArg
		recv string
		ret  string
	)
	_, err := s.Hook(context.Background(), []*host.MethodDescriptor{damage}, hook.Callbacks{
		OnEnter: func(c *hook.Call) error {
			mu.Lock()
			defer mu.Unlock()
			args = s.CallArgs(c)
			if v, ok := s.CallReceiver(c); ok {
				recv = s.Summary(v)
			}
			return nil
		},
		OnLeave: func(c *hook.Call, _ *host.Return) {
			mu.Lock()
			defer mu.Unlock()
			ret = s.Summary(s.CallReturn(c))
		},
	})
	require.NoError(t, err)

	w.Invoke(1, damage, 1, p, 0xfffffff6, w.NewString("trap"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, args, 2)
	assert.Equal(t, "amount", args[0].Name)
	assert.Equal(t, "-10", args[0].Text)
	assert.Equal(t, `"trap"`, args[1].Text)
	assert.Contains(t, recv, "Game.Player@")
	assert.Equal(t, "true", ret)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, w := newSession(t, nil)
	update := w.Method(w.Player, "Update")
	_, err := s.Hook(context.Background(), []*host.MethodDescriptor{update}, hook.Callbacks{})
	require.NoError(t, err)
	require.Equal(t, 1, w.Listeners(update))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, w.Listeners(update))
	assert.Empty(t, s.Handles())

	_, err = s.Hook(context.Background(), []*host.MethodDescriptor{update}, hook.Callbacks{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionsAreIndependent(t *testing.T) {
	w := sample.NewWorld()
	a := New(w, nil, nil)
	b := New(w, nil, nil)
	defer a.Close()
	defer b.Close()
	p := w.NewPlayer("Alice", 1, 0)

	_, ok := a.Dump(p, "Game.Player")
	require.True(t, ok)
	_, ok = b.Dump(p, "Game.Player")
	assert.True(t, ok, "dedup sets are per session")
	assert.NotEqual(t, a.ID, b.ID)
}
