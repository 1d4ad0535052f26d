package decode

import (
	"strings"

	"github.com/daimatz/goprobe/pkg/host"
)

// TypeKind is the decode strategy selected for a declared type name.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeVoid
	TypePrimitive
	TypeString
	TypeByteArray
	TypeArray
	TypeEnum
	TypeCollection
	TypeStruct
	TypeObject
)

var typeKindNames = [...]string{
	TypeUnknown:    "unknown",
	TypeVoid:       "void",
	TypePrimitive:  "primitive",
	TypeString:     "string",
	TypeByteArray:  "byte-array",
	TypeArray:      "array",
	TypeEnum:       "enum",
	TypeCollection: "collection",
	TypeStruct:     "struct",
	TypeObject:     "object",
}

func (k TypeKind) String() string {
	if int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return "TypeKind(?)"
}

// Prim identifies a fixed-width primitive type.
type Prim int

const (
	PrimNone Prim = iota
	PrimBool
	PrimChar
	PrimI8
	PrimU8
	PrimI16
	PrimU16
	PrimI32
	PrimU32
	PrimI64
	PrimU64
	PrimF32
	PrimF64
	PrimIntPtr
	PrimUIntPtr
)

// Size returns the storage size of p in bytes.
func (p Prim) Size() int {
	switch p {
	case PrimBool, PrimI8, PrimU8:
		return 1
	case PrimChar, PrimI16, PrimU16:
		return 2
	case PrimI32, PrimU32, PrimF32:
		return 4
	case PrimI64, PrimU64, PrimF64, PrimIntPtr, PrimUIntPtr:
		return 8
	}
	return 0
}

// Signed reports whether p is a signed integer type.
func (p Prim) Signed() bool {
	switch p {
	case PrimI8, PrimI16, PrimI32, PrimI64, PrimIntPtr:
		return true
	}
	return false
}

var primNames = map[string]Prim{
	"bool": PrimBool, "boolean": PrimBool,
	"char":  PrimChar,
	"sbyte": PrimI8, "int8": PrimI8,
	"byte": PrimU8, "uint8": PrimU8,
	"short": PrimI16, "int16": PrimI16,
	"ushort": PrimU16, "uint16": PrimU16,
	"int": PrimI32, "int32": PrimI32,
	"uint": PrimU32, "uint32": PrimU32,
	"long": PrimI64, "int64": PrimI64,
	"ulong": PrimU64, "uint64": PrimU64,
	"float": PrimF32, "single": PrimF32,
	"double":  PrimF64,
	"intptr":  PrimIntPtr,
	"uintptr": PrimUIntPtr,
}

// CollectionKind distinguishes the known collection shapes.
type CollectionKind int

const (
	CollList CollectionKind = iota
	CollDictionary
	CollMultimap
)

func (k CollectionKind) String() string {
	switch k {
	case CollList:
		return "List"
	case CollDictionary:
		return "Dictionary"
	case CollMultimap:
		return "Multimap"
	}
	return "Collection"
}

// TypeInfo is the result of classifying a declared type name.
type TypeInfo struct {
	Name string
	Kind TypeKind
	Prim Prim
	// Base is Name without generic arguments or array suffix.
	Base string
	// Args holds generic arguments, Elem the element type of arrays.
	Args []string
	Elem string

	// cls is the declared class for enums and structs.
	cls *host.ClassDescriptor
}

// Class returns the declared class resolved for enum and struct types.
func (ti TypeInfo) Class() *host.ClassDescriptor { return ti.cls }

// ParseType classifies a type name from its spelling alone. Names that need
// metadata to refine (enums, structs, collections) come back as TypeObject.
func ParseType(name string) TypeInfo {
	name = strings.TrimSpace(name)
	ti := TypeInfo{Name: name, Base: name}
	if name == "" {
		return ti
	}
	bare := strings.TrimSuffix(name, "&")

	if elem, ok := strings.CutSuffix(bare, "[]"); ok {
		ti.Elem = elem
		ti.Base = elem + "[]"
		if p, ok := lookupPrim(elem); ok && p == PrimU8 {
			ti.Kind = TypeByteArray
		} else {
			ti.Kind = TypeArray
		}
		return ti
	}

	ti.Base, ti.Args = splitGeneric(bare)
	short := strings.ToLower(lastSegment(ti.Base))
	switch {
	case short == "void":
		ti.Kind = TypeVoid
	case short == "string":
		ti.Kind = TypeString
	default:
		if p, ok := primNames[short]; ok && len(ti.Args) == 0 {
			ti.Kind = TypePrimitive
			ti.Prim = p
		} else {
			ti.Kind = TypeObject
		}
	}
	return ti
}

func lookupPrim(name string) (Prim, bool) {
	p, ok := primNames[strings.ToLower(lastSegment(name))]
	return p, ok
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// splitGeneric splits "A.B<C, D<E>>" or "A.B`2[C,D]" into base and arguments.
func splitGeneric(name string) (string, []string) {
	open := strings.IndexAny(name, "<[")
	if open < 0 || !strings.HasSuffix(name, ">") && !strings.HasSuffix(name, "]") {
		return name, nil
	}
	base := name[:open]
	if i := strings.IndexByte(base, '`'); i >= 0 {
		base = base[:i]
	}
	inner := name[open+1 : len(name)-1]
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '<', '[':
			depth++
		case '>', ']':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	return base, args
}
