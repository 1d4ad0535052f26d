package memhost

import (
	"errors"
	"testing"

	"github.com/daimatz/goprobe/pkg/host"
)

func TestReadBytes(t *testing.T) {
	h := NewHeap(4096)
	p := h.Alloc(16)
	h.WriteI32(p, -7)

	t.Run("in range", func(t *testing.T) {
		v, err := host.Reader{Mem: h}.I32(p)
		if err != nil {
			t.Fatalf("I32: %v", err)
		}
		if v != -7 {
			t.Errorf("I32: got %d, want -7", v)
		}
	})

	t.Run("below base", func(t *testing.T) {
		if _, err := h.ReadBytes(0x10, 4); !errors.Is(err, host.ErrBadAddress) {
			t.Errorf("ReadBytes(0x10): got %v, want ErrBadAddress", err)
		}
	})

	t.Run("past end", func(t *testing.T) {
		if _, err := h.ReadBytes(DefaultBase.Add(4094), 8); !errors.Is(err, host.ErrBadAddress) {
			t.Errorf("ReadBytes past end: got %v, want ErrBadAddress", err)
		}
	})

	t.Run("null", func(t *testing.T) {
		if _, err := (host.Reader{Mem: h}).U64(0); !errors.Is(err, host.ErrBadAddress) {
			t.Errorf("U64(0): got %v, want ErrBadAddress", err)
		}
	})
}

func TestStrings(t *testing.T) {
	h := NewHeap(4096)

	t.Run("round trip", func(t *testing.T) {
		p := h.NewString("héllo, 世界")
		got, err := h.ReadString(p)
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if got != "héllo, 世界" {
			t.Errorf("ReadString: got %q", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		got, err := h.ReadString(h.NewString(""))
		if err != nil || got != "" {
			t.Errorf("ReadString(empty): got %q, %v", got, err)
		}
	})

	t.Run("lone surrogate decodes to replacement", func(t *testing.T) {
		p := h.NewRawString(2, []uint16{0xD800, 'a'})
		got, err := h.ReadString(p)
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if got != "�a" {
			t.Errorf("ReadString: got %q, want %q", got, "�a")
		}
	})

	t.Run("negative length", func(t *testing.T) {
		p := h.NewRawString(-1, nil)
		if _, err := h.ReadString(p); err == nil {
			t.Error("ReadString with negative length: got nil error")
		}
	})

	t.Run("injected fault", func(t *testing.T) {
		p := h.NewString("x")
		h.BreakString(p)
		if _, err := h.ReadString(p); !errors.Is(err, ErrInjected) {
			t.Errorf("ReadString: got %v, want ErrInjected", err)
		}
	})
}

func TestTrace(t *testing.T) {
	h := NewHeap(4096)
	p := h.NewByteArray([]byte{1, 2, 3})
	h.StartTrace()
	if _, err := h.ReadBytes(p.Add(ArrayLengthOffset), 4); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	reads := h.StopTrace()
	if len(reads) != 1 || reads[0].Addr != p.Add(ArrayLengthOffset) || reads[0].Len != 4 {
		t.Errorf("trace: got %+v", reads)
	}
	if _, err := h.ReadBytes(p, 1); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if got := h.StopTrace(); len(got) != 0 {
		t.Errorf("trace after stop: got %d reads, want 0", len(got))
	}
}

func TestClassOf(t *testing.T) {
	h := NewHeap(4096)
	s := h.NewString("abc")
	cls, err := h.ClassOf(s)
	if err != nil {
		t.Fatalf("ClassOf: %v", err)
	}
	if cls.FullName() != "System.String" {
		t.Errorf("ClassOf: got %s, want System.String", cls.FullName())
	}

	h.BreakClassOf(s)
	if _, err := h.ClassOf(s); !errors.Is(err, ErrInjected) {
		t.Errorf("ClassOf after fault: got %v, want ErrInjected", err)
	}
}

func TestDictBuilder(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		b := NewDictBuilder(8, 8)
		b.Put(1, 100)
		got, ok := b.Get(1)
		if !ok || got != 100 {
			t.Errorf("Get(1): got %d, %v, want 100, true", got, ok)
		}
	})

	t.Run("overwrite returns old value", func(t *testing.T) {
		b := NewDictBuilder(4, 4)
		b.Put(7, 1)
		old, ok := b.Put(7, 2)
		if !ok || old != 1 {
			t.Errorf("Put overwrite: got %d, %v, want 1, true", old, ok)
		}
		if b.Len() != 1 {
			t.Errorf("Len: got %d, want 1", b.Len())
		}
	})

	t.Run("free slots not counted", func(t *testing.T) {
		b := NewDictBuilder(8, 8)
		b.Put(1, 1)
		b.PutFree()
		if b.Len() != 1 {
			t.Errorf("Len: got %d, want 1", b.Len())
		}
	})
}

func TestEntryLayout(t *testing.T) {
	tests := []struct {
		key, val                 int
		stride, keyOff, valueOff int
	}{
		{8, 8, 24, 8, 16},
		{4, 4, 16, 8, 12},
		{8, 4, 24, 8, 16},
		{4, 8, 24, 8, 16},
	}
	for _, tt := range tests {
		stride, k, v := EntryLayout(tt.key, tt.val)
		if stride != tt.stride || k != tt.keyOff || v != tt.valueOff {
			t.Errorf("EntryLayout(%d, %d): got (%d, %d, %d), want (%d, %d, %d)",
				tt.key, tt.val, stride, k, v, tt.stride, tt.keyOff, tt.valueOff)
		}
	}
}

func TestInvoke(t *testing.T) {
	h := NewHeap(4096)
	cls := h.Define("Game", &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "Timer",
		Methods:   []host.MethodDescriptor{{Name: "ShouldWait", Entry: 0x7000}},
	})
	m := &cls.Methods[0]

	var entered, left int
	l, err := h.Attach(m, host.Callbacks{
		OnEnter: func(inv *host.Invocation) { entered++ },
		OnLeave: func(inv *host.Invocation, ret *host.Return) {
			left++
			ret.Replace(0)
		},
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if got := h.Invoke(1, m, 1); got != 0 {
		t.Errorf("Invoke: got %d, want replaced 0", got)
	}
	if entered != 1 || left != 1 {
		t.Errorf("callbacks: entered=%d left=%d, want 1 and 1", entered, left)
	}

	if err := l.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := l.Detach(); !errors.Is(err, ErrDetached) {
		t.Errorf("second Detach: got %v, want ErrDetached", err)
	}
	if got := h.Invoke(1, m, 1); got != 1 {
		t.Errorf("Invoke after detach: got %d, want 1", got)
	}
}

func TestAttachFaults(t *testing.T) {
	h := NewHeap(4096)
	cls := h.Define("Game", &host.ClassDescriptor{
		Name: "C",
		Methods: []host.MethodDescriptor{
			{Name: "Abstract"},
			{Name: "Flaky", Entry: 0x7100},
			{Name: "Gone", Entry: 0x7200},
		},
	})

	if _, err := h.Attach(&cls.Methods[0], host.Callbacks{}); !errors.Is(err, host.ErrBadAddress) {
		t.Errorf("Attach(null entry): got %v, want ErrBadAddress", err)
	}

	h.FailAttach("Flaky")
	if _, err := h.Attach(&cls.Methods[1], host.Callbacks{}); !errors.Is(err, ErrInjected) {
		t.Errorf("Attach(Flaky): got %v, want ErrInjected", err)
	}

	l, err := h.Attach(&cls.Methods[2], host.Callbacks{})
	if err != nil {
		t.Fatalf("Attach(Gone): %v", err)
	}
	h.Unload(&cls.Methods[2])
	if err := l.Detach(); !errors.Is(err, ErrDetached) {
		t.Errorf("Detach after unload: got %v, want ErrDetached", err)
	}
}
