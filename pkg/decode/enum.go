package decode

import (
	"strings"

	"github.com/daimatz/goprobe/pkg/host"
)

type enumLiteral struct {
	name  string
	value int64
}

type enumInfo struct {
	prim     Prim
	literals []enumLiteral
	byValue  map[int64]string
}

// enumInfo returns the memoized literal table of cls.
func (d *Decoder) enumInfo(cls *host.ClassDescriptor) *enumInfo {
	key := cls.Assembly + "/" + cls.FullName()
	if v, ok := d.state.enums.Load(key); ok {
		return v.(*enumInfo)
	}
	info := &enumInfo{prim: PrimI32, byValue: make(map[int64]string)}
	for _, f := range cls.Fields {
		switch {
		case f.Name == "value__" && !f.IsStatic:
			if ti := ParseType(f.TypeName); ti.Kind == TypePrimitive {
				info.prim = ti.Prim
			}
		case f.IsLiteral:
			info.literals = append(info.literals, enumLiteral{name: f.Name, value: f.Literal})
			if _, dup := info.byValue[f.Literal]; !dup {
				info.byValue[f.Literal] = f.Name
			}
		}
	}
	d.state.enums.Store(key, info)
	return info
}

// name returns the member name for v, composing flag members when every set
// bit is covered by a declared literal.
func (e *enumInfo) name(v int64) string {
	if n, ok := e.byValue[v]; ok {
		return n
	}
	if v <= 0 {
		return ""
	}
	var parts []string
	rest := v
	for _, l := range e.literals {
		if l.value > 0 && l.value&v == l.value && rest&l.value != 0 {
			parts = append(parts, l.name)
			rest &^= l.value
		}
	}
	if rest != 0 || len(parts) < 2 {
		return ""
	}
	return strings.Join(parts, " | ")
}

func signExtend(bits uint64, p Prim) int64 {
	switch p {
	case PrimI8:
		return int64(int8(bits))
	case PrimI16:
		return int64(int16(bits))
	case PrimI32:
		return int64(int32(bits))
	case PrimU8:
		return int64(bits & 0xff)
	case PrimU16, PrimChar:
		return int64(bits & 0xffff)
	case PrimU32:
		return int64(bits & 0xffffffff)
	}
	return int64(bits)
}

func (d *Decoder) enumFromBits(cls *host.ClassDescriptor, bits uint64) Value {
	if cls == nil {
		return Value{Kind: KindInt, Int: int64(bits)}
	}
	info := d.enumInfo(cls)
	val := signExtend(bits, info.prim)
	return Value{
		Kind: KindEnum,
		Type: cls.FullName(),
		Prim: info.prim,
		Int:  val,
		Text: info.name(val),
	}
}

func (d *Decoder) enumAt(p host.Pointer, cls *host.ClassDescriptor) Value {
	if cls == nil {
		return RawValue(p, "")
	}
	info := d.enumInfo(cls)
	bits, err := d.readBits(p, info.prim.Size())
	if err != nil {
		return RawValue(p, cls.FullName())
	}
	v := d.enumFromBits(cls, bits)
	v.Addr = p
	return v
}
