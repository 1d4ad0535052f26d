package host

import "strings"

// ClassDescriptor describes a managed class as exposed by the host.
// Identity is the (Namespace, Name) pair, which is not unique across assemblies.
type ClassDescriptor struct {
	Assembly    string
	Namespace   string
	Name        string
	Fields      []FieldDescriptor
	Methods     []MethodDescriptor
	IsEnum      bool
	IsValueType bool

	// Klass is the runtime class pointer stored in the header of every instance.
	Klass Pointer
	// StaticData is the base of the class's static field storage, if known.
	StaticData Pointer
}

// FullName returns Namespace.Name, or Name for classes in the global namespace.
func (c *ClassDescriptor) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "." + c.Name
}

// FindField returns the field with the given name, or nil.
func (c *ClassDescriptor) FindField(name string) *FieldDescriptor {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// FindMethod returns the first method with the given name, or nil.
func (c *ClassDescriptor) FindMethod(name string) *MethodDescriptor {
	for i := range c.Methods {
		if c.Methods[i].Name == name {
			return &c.Methods[i]
		}
	}
	return nil
}

// FieldDescriptor describes a field of a managed class.
type FieldDescriptor struct {
	Name     string
	TypeName string
	IsStatic bool
	// Offset is relative to the object base for instance fields and to
	// the class static data for static fields.
	Offset int64

	// IsLiteral marks compile-time constants such as enum members.
	IsLiteral bool
	Literal   int64
}

// Parameter is a single method parameter.
type Parameter struct {
	Name     string
	TypeName string
}

// MethodDescriptor describes a method of a managed class.
type MethodDescriptor struct {
	Name           string
	Parameters     []Parameter
	ReturnTypeName string
	IsStatic       bool
	// Entry is the native entry address. A zero entry cannot be hooked.
	Entry Pointer

	Class *ClassDescriptor
}

// FullName returns Namespace.Class.Method.
func (m *MethodDescriptor) FullName() string {
	if m.Class == nil {
		return m.Name
	}
	return m.Class.FullName() + "." + m.Name
}

// Signature returns a readable signature such as "Add(System.Int32 a, System.Int32 b)".
func (m *MethodDescriptor) Signature() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	for i, p := range m.Parameters {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.TypeName)
		if p.Name != "" {
			b.WriteByte(' ')
			b.WriteString(p.Name)
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Hookable reports whether the method has a usable entry address.
func (m *MethodDescriptor) Hookable() bool {
	return !m.Entry.IsNull()
}
