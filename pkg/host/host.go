// Package host defines the contract between goprobe and an instrumentation
// host: class and method metadata, safe raw-memory reads, managed string
// materialization and function interception. goprobe never touches target
// memory except through these primitives.
package host

import (
	"errors"
	"fmt"
)

// Errors commonly returned by host implementations.
var (
	ErrBadAddress    = errors.New("host: address is not readable")
	ErrUnsupported   = errors.New("host: operation not supported")
	ErrClassNotFound = errors.New("host: class not found")
)

// Pointer is an address in the target process.
type Pointer uint64

// IsNull reports whether p is the zero address.
func (p Pointer) IsNull() bool { return p == 0 }

// Add returns p displaced by off bytes.
func (p Pointer) Add(off int64) Pointer { return Pointer(int64(p) + off) }

func (p Pointer) String() string { return fmt.Sprintf("0x%x", uint64(p)) }

// Memory reads raw bytes from the target process. Implementations must
// return an error, never crash, for unreadable ranges.
type Memory interface {
	ReadBytes(p Pointer, n int) ([]byte, error)
}

// Metadata enumerates and looks up class metadata.
type Metadata interface {
	// Assemblies returns assembly names in stable enumeration order.
	Assemblies() ([]string, error)
	// Classes returns the classes of one assembly in stable enumeration order.
	Classes(assembly string) ([]*ClassDescriptor, error)
	// ClassOf returns the runtime class of the object at obj.
	ClassOf(obj Pointer) (*ClassDescriptor, error)
	// FindClass looks up a class by full name.
	FindClass(fullName string) (*ClassDescriptor, error)
	// StaticFieldAddress returns the storage address of a static field.
	StaticFieldAddress(c *ClassDescriptor, f *FieldDescriptor) (Pointer, error)
}

// Strings materializes managed strings.
type Strings interface {
	ReadString(p Pointer) (string, error)
}

// Invocation is the host's view of one intercepted call. Args holds the raw
// register-sized argument values, receiver first for instance methods.
type Invocation struct {
	ThreadID uint64
	FrameID  uint64
	Args     []Pointer
}

// Return is the host's view of an intercepted return value.
type Return struct {
	Value Pointer

	replaced    bool
	replacement Pointer
}

// Replace asks the host to return v to the caller instead of Value.
func (r *Return) Replace(v Pointer) {
	r.replaced = true
	r.replacement = v
}

// Replacement returns the value set by Replace, if any.
func (r *Return) Replacement() (Pointer, bool) {
	return r.replacement, r.replaced
}

// Callbacks are invoked synchronously on the thread executing the hooked function.
type Callbacks struct {
	OnEnter func(inv *Invocation)
	OnLeave func(inv *Invocation, ret *Return)
}

// Listener is an installed interception.
type Listener interface {
	Detach() error
}

// Interceptor installs function interceptions.
type Interceptor interface {
	Attach(m *MethodDescriptor, cb Callbacks) (Listener, error)
}

// Host is the full primitive set an instrumentation host provides.
type Host interface {
	Memory
	Metadata
	Strings
	Interceptor
}
