//go:build !linux

package procmem

import (
	"fmt"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
)

// Open is only implemented on Linux.
func Open(pid int, cat *catalog.Catalog) (*Process, error) {
	return nil, fmt.Errorf("procmem: pid %d: %w", pid, host.ErrUnsupported)
}

// ReadBytes is only implemented on Linux.
func (p *Process) ReadBytes(addr host.Pointer, n int) ([]byte, error) {
	return nil, host.ErrUnsupported
}
