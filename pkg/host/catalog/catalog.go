// Package catalog holds class metadata for hosts that cannot enumerate it
// themselves, typically loaded from a YAML metadata dump produced offline.
package catalog

import (
	"fmt"
	"sync"

	"github.com/daimatz/goprobe/pkg/host"
)

// Catalog is an in-memory class registry implementing host.Metadata.
// Lookups that miss are delegated to Parent, if set.
type Catalog struct {
	Parent *Catalog

	mu      sync.RWMutex
	order   []string
	byAsm   map[string][]*host.ClassDescriptor
	byName  map[string][]*host.ClassDescriptor
	byKlass map[host.Pointer]*host.ClassDescriptor
	mem     host.Memory
}

// New creates an empty Catalog.
func New(parent *Catalog) *Catalog {
	return &Catalog{
		Parent:  parent,
		byAsm:   make(map[string][]*host.ClassDescriptor),
		byName:  make(map[string][]*host.ClassDescriptor),
		byKlass: make(map[host.Pointer]*host.ClassDescriptor),
	}
}

// Bind sets the memory used by ClassOf to read object headers.
func (c *Catalog) Bind(mem host.Memory) {
	c.mu.Lock()
	c.mem = mem
	c.mu.Unlock()
}

// Add registers cls under assembly and returns it. Method descriptors are
// linked back to the class.
func (c *Catalog) Add(assembly string, cls *host.ClassDescriptor) *host.ClassDescriptor {
	cls.Assembly = assembly
	for i := range cls.Methods {
		cls.Methods[i].Class = cls
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byAsm[assembly]; !ok {
		c.order = append(c.order, assembly)
	}
	c.byAsm[assembly] = append(c.byAsm[assembly], cls)
	c.byName[cls.FullName()] = append(c.byName[cls.FullName()], cls)
	if !cls.Klass.IsNull() {
		c.byKlass[cls.Klass] = cls
	}
	return cls
}

// Assemblies returns the parent's assemblies followed by this catalog's,
// each in registration order.
func (c *Catalog) Assemblies() ([]string, error) {
	var out []string
	if c.Parent != nil {
		parent, err := c.Parent.Assemblies()
		if err != nil {
			return nil, err
		}
		out = append(out, parent...)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(out, c.order...), nil
}

// Classes returns the classes registered under assembly.
func (c *Catalog) Classes(assembly string) ([]*host.ClassDescriptor, error) {
	c.mu.RLock()
	classes, ok := c.byAsm[assembly]
	c.mu.RUnlock()
	if ok {
		out := make([]*host.ClassDescriptor, len(classes))
		copy(out, classes)
		return out, nil
	}
	if c.Parent != nil {
		return c.Parent.Classes(assembly)
	}
	return nil, fmt.Errorf("catalog: assembly %q not found", assembly)
}

// FindClass returns the first class registered under fullName.
func (c *Catalog) FindClass(fullName string) (*host.ClassDescriptor, error) {
	c.mu.RLock()
	classes := c.byName[fullName]
	c.mu.RUnlock()
	if len(classes) > 0 {
		return classes[0], nil
	}
	if c.Parent != nil {
		return c.Parent.FindClass(fullName)
	}
	return nil, fmt.Errorf("catalog: %s: %w", fullName, host.ErrClassNotFound)
}

// ClassByKlass returns the class whose runtime class pointer is klass.
func (c *Catalog) ClassByKlass(klass host.Pointer) (*host.ClassDescriptor, error) {
	c.mu.RLock()
	cls, ok := c.byKlass[klass]
	c.mu.RUnlock()
	if ok {
		return cls, nil
	}
	if c.Parent != nil {
		return c.Parent.ClassByKlass(klass)
	}
	return nil, fmt.Errorf("catalog: klass %s: %w", klass, host.ErrClassNotFound)
}

// ClassOf reads the class pointer from the object header at obj.
func (c *Catalog) ClassOf(obj host.Pointer) (*host.ClassDescriptor, error) {
	c.mu.RLock()
	mem := c.mem
	c.mu.RUnlock()
	if mem == nil {
		return nil, fmt.Errorf("catalog: no memory bound: %w", host.ErrUnsupported)
	}
	klass, err := host.Reader{Mem: mem}.Pointer(obj)
	if err != nil {
		return nil, fmt.Errorf("catalog: object header at %s: %w", obj, err)
	}
	return c.ClassByKlass(klass)
}

// StaticFieldAddress returns cls.StaticData + f.Offset.
func (c *Catalog) StaticFieldAddress(cls *host.ClassDescriptor, f *host.FieldDescriptor) (host.Pointer, error) {
	if !f.IsStatic {
		return 0, fmt.Errorf("catalog: %s.%s is not static", cls.FullName(), f.Name)
	}
	if cls.StaticData.IsNull() {
		return 0, fmt.Errorf("catalog: %s has no static data: %w", cls.FullName(), host.ErrBadAddress)
	}
	return cls.StaticData.Add(f.Offset), nil
}
