// Package procmem reads the memory of a live process without stopping it.
// Class metadata comes from a catalog (usually a YAML dump), so a Process can
// resolve targets and decode heap objects but cannot intercept calls.
package procmem

import (
	"fmt"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
)

// Process is a read-only host.Host for a running process.
type Process struct {
	*catalog.Catalog

	pid    int
	layout host.StringLayout
}

// Offline returns a Process with metadata from cat and no backing process.
// It resolves targets and lists methods; every memory read fails with
// host.ErrUnsupported.
func Offline(cat *catalog.Catalog) *Process {
	if cat == nil {
		cat = catalog.New(nil)
	}
	return &Process{Catalog: cat, layout: host.DefaultStringLayout}
}

// Pid returns the target process id, or 0 for an offline Process.
func (p *Process) Pid() int { return p.pid }

// ReadString implements host.Strings.
func (p *Process) ReadString(addr host.Pointer) (string, error) {
	return host.ReadManagedString(p, addr, p.layout)
}

// ReadStringPrefix implements host.BoundedStrings.
func (p *Process) ReadStringPrefix(addr host.Pointer, maxUnits int) (string, int, error) {
	return host.ReadManagedStringPrefix(p, addr, p.layout, maxUnits)
}

// Attach always fails: remote interception needs an in-process agent.
func (p *Process) Attach(m *host.MethodDescriptor, _ host.Callbacks) (host.Listener, error) {
	return nil, fmt.Errorf("procmem: attach %s: %w", m.FullName(), host.ErrUnsupported)
}

var (
	_ host.Host           = (*Process)(nil)
	_ host.BoundedStrings = (*Process)(nil)
)
