package procmem

import (
	"errors"
	"testing"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
)

func TestOffline(t *testing.T) {
	cat := catalog.New(nil)
	cat.Add("Assembly-CSharp", &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "Player",
		Methods:   []host.MethodDescriptor{{Name: "Update", Entry: 0x7000}},
	})
	p := Offline(cat)

	if p.Pid() != 0 {
		t.Errorf("Pid: got %d, want 0", p.Pid())
	}
	classes, err := p.Classes("Assembly-CSharp")
	if err != nil || len(classes) != 1 {
		t.Fatalf("Classes: got %v, %v", classes, err)
	}
	if _, err := p.ReadBytes(0x1000, 8); !errors.Is(err, host.ErrUnsupported) {
		t.Errorf("ReadBytes: got %v, want ErrUnsupported", err)
	}
	if _, err := p.ReadString(0x1000); err == nil {
		t.Error("ReadString: expected error")
	}
	if _, err := p.Attach(&classes[0].Methods[0], host.Callbacks{}); err == nil {
		t.Error("Attach: expected error")
	}
}
