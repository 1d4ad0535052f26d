package decode

import "github.com/daimatz/goprobe/pkg/host"

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindArray
	KindEnum
	KindCollection
	KindObject
	KindRaw
	KindInaccessible
)

var kindNames = [...]string{
	KindNull:         "null",
	KindBool:         "bool",
	KindInt:          "int",
	KindUint:         "uint",
	KindFloat:        "float",
	KindString:       "string",
	KindBytes:        "bytes",
	KindArray:        "array",
	KindEnum:         "enum",
	KindCollection:   "collection",
	KindObject:       "object",
	KindRaw:          "raw",
	KindInaccessible: "inaccessible",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(?)"
}

// Value is a decoded, size-bounded view of target memory. Only the fields
// relevant to Kind are set.
type Value struct {
	Kind Kind
	// Type is the runtime class name when known, else the declared type name.
	Type string
	Addr host.Pointer
	Prim Prim

	Bool  bool
	Int   int64
	Uint  uint64
	Float float64

	// Text holds the string payload, the enum member name or the Raw label.
	Text      string
	Truncated bool

	// Length is the element count of arrays and byte buffers, and the
	// UTF-16 length of strings.
	Length     int
	Bytes      []byte
	LooksEmpty bool

	Collection CollectionKind
	Size       int
	Entries    []Entry

	Fields []Field
	// Omitted counts fields or entries left out of the preview.
	Omitted int
}

// Entry is one key/value pair of a dictionary preview.
type Entry struct {
	Key   Value
	Value Value
}

// Field is one field of an object preview.
type Field struct {
	Name   string
	Static bool
	Value  Value
}

// NullValue returns a null reference of the given type.
func NullValue(typeName string) Value {
	return Value{Kind: KindNull, Type: typeName}
}

// RawValue returns a bare address, optionally labeled with a type name.
func RawValue(addr host.Pointer, label string) Value {
	return Value{Kind: KindRaw, Addr: addr, Text: label}
}

// InaccessibleValue marks an object whose metadata could not be read.
func InaccessibleValue(addr host.Pointer, typeName string) Value {
	return Value{Kind: KindInaccessible, Addr: addr, Type: typeName}
}

// IsNull reports whether v is a null reference.
func (v Value) IsNull() bool { return v.Kind == KindNull }
