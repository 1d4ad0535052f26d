package resolve

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/memhost"
)

func heapWith(classes map[string][]string) *memhost.Heap {
	h := memhost.NewHeap(1 << 16)
	for _, asm := range []string{"Game", "Plugins", "Vendor"} {
		for _, full := range classes[asm] {
			t, _ := Target{FullName: full}.Normalize()
			h.Define(asm, &host.ClassDescriptor{Namespace: t.Namespace, Name: t.ClassName})
		}
	}
	return h
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      Target
		want    Target
		wantErr error
	}{
		{Target{FullName: "Game.Net.Client"}, Target{FullName: "Game.Net.Client", Namespace: "Game.Net", ClassName: "Client"}, nil},
		{Target{FullName: "Client"}, Target{FullName: "Client", ClassName: "Client"}, nil},
		{Target{Namespace: " Game ", ClassName: " Player "}, Target{Namespace: "Game", ClassName: "Player"}, nil},
		{Target{FullName: "Game."}, Target{FullName: "Game.", Namespace: "Game"}, ErrEmptyClassName},
		{Target{}, Target{}, ErrEmptyClassName},
	}
	for _, tt := range tests {
		got, err := tt.in.Normalize()
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Normalize(%+v): got err %v, want %v", tt.in, err, tt.wantErr)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Normalize(%+v) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestResolveExactSingle(t *testing.T) {
	h := heapWith(map[string][]string{"Game": {"Game.Sample", "Game.SampleV2"}})
	r := New(h, nil)

	res, err := r.Resolve(Target{ClassName: "Sample", PickIndex: 5})
	require.NoError(t, err)
	assert.Equal(t, "Game.Sample", res.Class.FullName())
	assert.Equal(t, 0, res.Index)
	assert.Len(t, res.Candidates, 1)
}

func TestResolvePartialPick(t *testing.T) {
	h := heapWith(map[string][]string{"Game": {"SampleV2", "LegacySample"}})
	r := New(h, nil)

	res, err := r.Resolve(Target{ClassName: "Sample", AllowPartialMatch: true, PickIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, "LegacySample", res.Class.Name)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "SampleV2", res.Candidates[0].Name)

	res, err = r.Resolve(Target{ClassName: "Sample", AllowPartialMatch: true, PickIndex: -3})
	require.NoError(t, err)
	assert.Equal(t, "SampleV2", res.Class.Name)
}

func TestResolveDeterministic(t *testing.T) {
	h := heapWith(map[string][]string{
		"Game":    {"Game.Player", "Game.PlayerState"},
		"Plugins": {"Mods.Player", "Mods.PlayerHud"},
	})
	r := New(h, nil)
	target := Target{ClassName: "Player", AllowPartialMatch: true, PickIndex: 2}

	first, err := r.Resolve(target)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(target)
		require.NoError(t, err)
		assert.Same(t, first.Class, again.Class)
	}
	assert.Equal(t, "Mods.Player", first.Class.FullName())
}

func TestResolveScopes(t *testing.T) {
	h := heapWith(map[string][]string{
		"Game":    {"Game.Player"},
		"Plugins": {"Mods.Player"},
	})
	r := New(h, nil)

	res, err := r.Resolve(Target{Assembly: "Plugins", ClassName: "Player"})
	require.NoError(t, err)
	assert.Equal(t, "Mods.Player", res.Class.FullName())

	res, err = r.Resolve(Target{Namespace: "Mod", ClassName: "Play", AllowPartialMatch: true})
	require.NoError(t, err)
	assert.Equal(t, "Mods.Player", res.Class.FullName())

	_, err = r.Resolve(Target{Namespace: "Mod", ClassName: "Player"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveNotFound(t *testing.T) {
	h := heapWith(map[string][]string{"Game": {"Game.Player"}, "Vendor": {"Lib.Util"}})
	h.BreakAssembly("Vendor")
	r := New(h, nil)

	_, err := r.Resolve(Target{ClassName: "Enemy"})
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 2, nf.Assemblies, "mscorlib and Game")
	assert.Equal(t, []string{"Vendor"}, nf.Skipped)
	assert.Contains(t, err.Error(), "Enemy")
	assert.Contains(t, err.Error(), "skipped Vendor")

	_, err = r.Resolve(Target{})
	assert.ErrorIs(t, err, ErrEmptyClassName)
}

func TestResolveSkipsPanickingAssembly(t *testing.T) {
	h := heapWith(map[string][]string{
		"Game":    {"Game.Player"},
		"Plugins": {"Mods.Player"},
	})
	h.PanicAssembly("Game")
	r := New(h, nil)

	res, err := r.Resolve(Target{ClassName: "Player"})
	require.NoError(t, err)
	assert.Equal(t, "Mods.Player", res.Class.FullName())
}

func TestSuggest(t *testing.T) {
	h := heapWith(map[string][]string{
		"Game":    {"Game.PlayerController", "Game.NetPlayer", "Game.player", "Game.PlayerHud"},
		"Plugins": {"Mods.Enemy"},
	})
	r := New(h, nil)

	got := r.Suggest(Target{ClassName: "Player"}, 10)
	want := []string{"Game.player", "Game.PlayerHud", "Game.PlayerController", "Game.NetPlayer"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Suggest mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, r.Suggest(Target{ClassName: "Player"}, 2), 2)
	assert.Empty(t, r.Suggest(Target{ClassName: "Boss"}, 10))
	assert.Nil(t, r.Suggest(Target{}, 10))
}

func TestNormalizeMethodName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Update", "Update"},
		{"  Update  ", "Update"},
		{"Update(float dt)", "Update"},
		{"Game.Player.Update", "Update"},
		{"::Update", "Update"},
		{"Player::Update()", "Update"},
		{".Update", "Update"},
		{".ctor", ".ctor"},
		{"Game.Player..ctor(int)", ".ctor"},
		{".cctor", ".cctor"},
	}
	for _, tt := range tests {
		if got := NormalizeMethodName(tt.in); got != tt.want {
			t.Errorf("NormalizeMethodName(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildMethodList(t *testing.T) {
	cls := &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "Player",
		Methods: []host.MethodDescriptor{
			{Name: ".ctor", Entry: 0x100},
			{Name: "Update", Entry: 0x200},
			{Name: "UpdateHud", Entry: 0x300},
			{Name: "get_Health", Entry: 0x400},
			{Name: "Abstract", Entry: 0},
			{Name: "Create", Entry: 0x500, IsStatic: true},
		},
	}
	names := func(ms []*host.MethodDescriptor) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.Name)
		}
		return out
	}

	tests := []struct {
		name   string
		filter MethodFilter
		want   []string
	}{
		{"all hookable", MethodFilter{}, []string{".ctor", "Update", "UpdateHud", "get_Health", "Create"}},
		{"contains", MethodFilter{Contains: "Update"}, []string{"Update", "UpdateHud"}},
		{"pattern", MethodFilter{Pattern: regexp.MustCompile(`^get_`)}, []string{"get_Health"}},
		{"exclude qualified", MethodFilter{Exclude: []string{"Game.Player.Update(float)", "::.ctor"}}, []string{"UpdateHud", "get_Health", "Create"}},
		{"skip static", MethodFilter{SkipStatic: true}, []string{".ctor", "Update", "UpdateHud", "get_Health"}},
		{"combined", MethodFilter{Contains: "Update", Pattern: regexp.MustCompile(`Hud$`), Exclude: []string{"UpdateHud"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildMethodList(cls, tt.filter)
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			for _, m := range got {
				assert.True(t, m.Hookable())
				assert.Same(t, cls, m.Class)
			}
		})
	}
	assert.Nil(t, BuildMethodList(nil, MethodFilter{}))
	for _, m := range cls.Methods {
		assert.Nil(t, m.Class, "%s: class descriptor was modified", m.Name)
	}
}

func TestBuildMethodListKeepsLinkedMethods(t *testing.T) {
	cls := &host.ClassDescriptor{Namespace: "Game", Name: "Player", Methods: []host.MethodDescriptor{
		{Name: "Update", Entry: 0x1000},
	}}
	cls.Methods[0].Class = cls

	got := BuildMethodList(cls, MethodFilter{})
	require.Len(t, got, 1)
	assert.Same(t, &cls.Methods[0], got[0])
}
