// Package memhost is an in-process instrumentation host backed by a simulated
// little-endian heap laid out like a 64-bit IL2CPP runtime. It is used by the
// goprobe tests and the demo command, and supports fault injection so that
// crash-safety paths can be exercised.
package memhost

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/catalog"
)

// Object and collection layout used by the builders.
const (
	ObjectHeaderSize = 0x10

	ArrayLengthOffset = 0x18
	ArrayDataOffset   = 0x20

	ListItemsOffset = 0x10
	ListSizeOffset  = 0x18

	DictEntriesOffset = 0x18
	DictCountOffset   = 0x20
)

// DefaultBase is the first address of a heap created by NewHeap.
const DefaultBase host.Pointer = 0x10000000

// Read is one recorded memory access.
type Read struct {
	Addr host.Pointer
	Len  int
}

// Heap is a simulated target process.
type Heap struct {
	*catalog.Catalog

	mu    sync.RWMutex
	base  host.Pointer
	mem   []byte
	next  int
	trace []Read
	// tracing is guarded by mu.
	tracing bool

	faults faults
	hooks  hooks

	// Core classes registered by NewHeap.
	ObjectClass    *host.ClassDescriptor
	StringClass    *host.ClassDescriptor
	ByteArrayClass *host.ClassDescriptor
	ArrayClass     *host.ClassDescriptor
}

// NewHeap creates a heap of size bytes with the core library classes registered.
func NewHeap(size int) *Heap {
	h := &Heap{
		Catalog: catalog.New(nil),
		base:    DefaultBase,
		mem:     make([]byte, size),
		next:    0x100,
	}
	h.Catalog.Bind(h)
	h.faults.init()
	h.hooks.init()
	h.bootCoreClasses()
	return h
}

func (h *Heap) bootCoreClasses() {
	h.ObjectClass = h.Define("mscorlib", &host.ClassDescriptor{Namespace: "System", Name: "Object"})
	h.StringClass = h.Define("mscorlib", &host.ClassDescriptor{Namespace: "System", Name: "String"})
	h.ByteArrayClass = h.Define("mscorlib", &host.ClassDescriptor{Namespace: "System", Name: "Byte[]"})
	h.ArrayClass = h.Define("mscorlib", &host.ClassDescriptor{Namespace: "System", Name: "Object[]"})
}

// Define allocates a runtime class pointer for cls (unless it has one) and registers it.
func (h *Heap) Define(assembly string, cls *host.ClassDescriptor) *host.ClassDescriptor {
	if cls.Klass.IsNull() {
		cls.Klass = h.Alloc(ObjectHeaderSize)
	}
	return h.Catalog.Add(assembly, cls)
}

// Alloc reserves n zeroed bytes aligned to 8 and returns their address.
// It panics when the heap is exhausted.
func (h *Heap) Alloc(n int) host.Pointer {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := (h.next + 7) &^ 7
	if start+n > len(h.mem) {
		panic(fmt.Sprintf("memhost: heap exhausted allocating %d bytes", n))
	}
	h.next = start + n
	return h.base.Add(int64(start))
}

func (h *Heap) span(p host.Pointer, n int) (int, bool) {
	if n < 0 || p < h.base {
		return 0, false
	}
	off := uint64(p - h.base)
	if off > uint64(len(h.mem)) || uint64(n) > uint64(len(h.mem))-off {
		return 0, false
	}
	return int(off), true
}

// ReadBytes implements host.Memory. Out-of-range reads fail with host.ErrBadAddress.
func (h *Heap) ReadBytes(p host.Pointer, n int) ([]byte, error) {
	if err := h.faults.readFault(p); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tracing {
		h.trace = append(h.trace, Read{Addr: p, Len: n})
	}
	off, ok := h.span(p, n)
	if !ok {
		return nil, fmt.Errorf("memhost: read %d bytes at %s: %w", n, p, host.ErrBadAddress)
	}
	out := make([]byte, n)
	copy(out, h.mem[off:off+n])
	return out, nil
}

// StartTrace begins recording reads, discarding earlier records.
func (h *Heap) StartTrace() {
	h.mu.Lock()
	h.tracing = true
	h.trace = nil
	h.mu.Unlock()
}

// StopTrace stops recording and returns the reads seen since StartTrace.
func (h *Heap) StopTrace() []Read {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracing = false
	out := h.trace
	h.trace = nil
	return out
}

// Write copies b to p. It panics if the range is outside the heap.
func (h *Heap) Write(p host.Pointer, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off, ok := h.span(p, len(b))
	if !ok {
		panic(fmt.Sprintf("memhost: write %d bytes at %s out of range", len(b), p))
	}
	copy(h.mem[off:], b)
}

// WriteU8 stores a byte.
func (h *Heap) WriteU8(p host.Pointer, v uint8) { h.Write(p, []byte{v}) }

// WriteU16 stores a little-endian uint16.
func (h *Heap) WriteU16(p host.Pointer, v uint16) {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	h.Write(p, b)
}

// WriteI32 stores a little-endian int32.
func (h *Heap) WriteI32(p host.Pointer, v int32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	h.Write(p, b)
}

// WriteU64 stores a little-endian uint64.
func (h *Heap) WriteU64(p host.Pointer, v uint64) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	h.Write(p, b)
}

// WriteI64 stores a little-endian int64.
func (h *Heap) WriteI64(p host.Pointer, v int64) { h.WriteU64(p, uint64(v)) }

// WriteF32 stores a float32.
func (h *Heap) WriteF32(p host.Pointer, v float32) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	h.Write(p, b)
}

// WriteF64 stores a float64.
func (h *Heap) WriteF64(p host.Pointer, v float64) { h.WriteU64(p, math.Float64bits(v)) }

// WritePointer stores a pointer.
func (h *Heap) WritePointer(p host.Pointer, v host.Pointer) { h.WriteU64(p, uint64(v)) }

// ReadString implements host.Strings.
func (h *Heap) ReadString(p host.Pointer) (string, error) {
	if err := h.faults.stringFault(p); err != nil {
		return "", err
	}
	return host.ReadManagedString(h, p, host.DefaultStringLayout)
}

// ReadStringPrefix implements host.BoundedStrings.
func (h *Heap) ReadStringPrefix(p host.Pointer, maxUnits int) (string, int, error) {
	if err := h.faults.stringFault(p); err != nil {
		return "", 0, err
	}
	return host.ReadManagedStringPrefix(h, p, host.DefaultStringLayout, maxUnits)
}

// Classes implements host.Metadata, honoring injected assembly faults.
func (h *Heap) Classes(assembly string) ([]*host.ClassDescriptor, error) {
	if err := h.faults.assemblyFault(assembly); err != nil {
		return nil, err
	}
	return h.Catalog.Classes(assembly)
}

// ClassOf implements host.Metadata, honoring injected metadata faults.
func (h *Heap) ClassOf(obj host.Pointer) (*host.ClassDescriptor, error) {
	if err := h.faults.classOfFault(obj); err != nil {
		return nil, err
	}
	return h.Catalog.ClassOf(obj)
}

var (
	_ host.Host           = (*Heap)(nil)
	_ host.BoundedStrings = (*Heap)(nil)
)
