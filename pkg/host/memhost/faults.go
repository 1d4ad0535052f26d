package memhost

import (
	"errors"
	"fmt"
	"sync"

	"github.com/daimatz/goprobe/pkg/host"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("memhost: injected fault")

type faults struct {
	mu         sync.RWMutex
	assemblies map[string]error
	panicAsm   map[string]bool
	strings    map[host.Pointer]error
	classOf    map[host.Pointer]error
	reads      map[host.Pointer]error
	panicReads map[host.Pointer]bool
	attach     map[string]error
}

func (f *faults) init() {
	f.assemblies = make(map[string]error)
	f.panicAsm = make(map[string]bool)
	f.strings = make(map[host.Pointer]error)
	f.classOf = make(map[host.Pointer]error)
	f.reads = make(map[host.Pointer]error)
	f.panicReads = make(map[host.Pointer]bool)
	f.attach = make(map[string]error)
}

func (f *faults) assemblyFault(name string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.panicAsm[name] {
		panic(fmt.Sprintf("memhost: metadata for %s is stripped", name))
	}
	return f.assemblies[name]
}

func (f *faults) stringFault(p host.Pointer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.strings[p]
}

func (f *faults) classOfFault(p host.Pointer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.classOf[p]
}

func (f *faults) readFault(p host.Pointer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.panicReads[p] {
		panic(fmt.Sprintf("memhost: access violation at %s", p))
	}
	return f.reads[p]
}

func (f *faults) attachFault(name string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.attach[name]
}

// BreakAssembly makes Classes(name) fail.
func (h *Heap) BreakAssembly(name string) {
	h.faults.mu.Lock()
	h.faults.assemblies[name] = fmt.Errorf("assembly %s: %w", name, ErrInjected)
	h.faults.mu.Unlock()
}

// PanicAssembly makes Classes(name) panic, as a host with stripped metadata may.
func (h *Heap) PanicAssembly(name string) {
	h.faults.mu.Lock()
	h.faults.panicAsm[name] = true
	h.faults.mu.Unlock()
}

// BreakString makes ReadString(p) fail.
func (h *Heap) BreakString(p host.Pointer) {
	h.faults.mu.Lock()
	h.faults.strings[p] = fmt.Errorf("string %s: %w", p, ErrInjected)
	h.faults.mu.Unlock()
}

// BreakClassOf makes ClassOf(p) fail.
func (h *Heap) BreakClassOf(p host.Pointer) {
	h.faults.mu.Lock()
	h.faults.classOf[p] = fmt.Errorf("class of %s: %w", p, ErrInjected)
	h.faults.mu.Unlock()
}

// BreakRead makes any read starting exactly at p fail.
func (h *Heap) BreakRead(p host.Pointer) {
	h.faults.mu.Lock()
	h.faults.reads[p] = fmt.Errorf("read %s: %w", p, ErrInjected)
	h.faults.mu.Unlock()
}

// PanicRead makes any read starting exactly at p panic.
func (h *Heap) PanicRead(p host.Pointer) {
	h.faults.mu.Lock()
	h.faults.panicReads[p] = true
	h.faults.mu.Unlock()
}

// FailAttach makes Attach fail for methods with the given name.
func (h *Heap) FailAttach(methodName string) {
	h.faults.mu.Lock()
	h.faults.attach[methodName] = fmt.Errorf("attach %s: %w", methodName, ErrInjected)
	h.faults.mu.Unlock()
}
