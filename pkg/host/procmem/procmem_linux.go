//go:build linux

package procmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
)

// Open attaches to pid for reading. cat supplies class metadata and is bound
// to the process memory so that ClassOf can read object headers.
func Open(pid int, cat *catalog.Catalog) (*Process, error) {
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return nil, fmt.Errorf("procmem: pid %d: %w", pid, err)
	}
	if cat == nil {
		cat = catalog.New(nil)
	}
	p := &Process{Catalog: cat, pid: pid, layout: host.DefaultStringLayout}
	cat.Bind(p)
	return p, nil
}

// ReadBytes implements host.Memory with process_vm_readv.
func (p *Process) ReadBytes(addr host.Pointer, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if p.pid == 0 {
		return nil, fmt.Errorf("procmem: read at %s: %w", addr, host.ErrUnsupported)
	}
	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(n)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: n}}

	got, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		if errors.Is(err, unix.EFAULT) {
			return nil, fmt.Errorf("procmem: read %d bytes at %s: %w", n, addr, host.ErrBadAddress)
		}
		return nil, fmt.Errorf("procmem: read %d bytes at %s: %w", n, addr, err)
	}
	if got < n {
		return nil, fmt.Errorf("procmem: short read at %s: %d of %d bytes: %w", addr, got, n, host.ErrBadAddress)
	}
	return buf, nil
}
