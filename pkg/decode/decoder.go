// Package decode interprets raw target memory as bounded values. Every read
// goes through the host's fallible primitives and every failure degrades to
// a less precise value; Decode never returns an error and never panics.
package decode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
)

// Source is the subset of the host a Decoder reads through.
type Source interface {
	host.Memory
	host.Metadata
	host.Strings
}

// Decoder decodes pointers into Values.
type Decoder struct {
	src   Source
	r     host.Reader
	opts  Options
	state *State
	log   *zap.Logger
}

// New creates a Decoder. state may be shared between decoders of one session.
func New(src Source, state *State, opts Options, log *zap.Logger) *Decoder {
	if state == nil {
		state = NewState()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{
		src:   src,
		r:     host.Reader{Mem: src},
		opts:  opts,
		state: state,
		log:   log,
	}
}

// Options returns the decoder's options.
func (d *Decoder) Options() Options { return d.opts }

// Decode decodes the value at p declared as typeName. For reference types p
// is the object address; for primitives, enums and structs it is the address
// of the storage slot.
func (d *Decoder) Decode(p host.Pointer, typeName string) Value {
	return d.guard(p, typeName, func() Value {
		return d.decode(p, d.TypeOf(typeName), d.opts.Limits, 0)
	})
}

// DecodeArg decodes a register-sized argument or return value. Primitive and
// enum kinds are interpreted from the raw bits, reference kinds as pointers.
func (d *Decoder) DecodeArg(raw host.Pointer, typeName string) Value {
	return d.guard(raw, typeName, func() Value {
		ti := d.TypeOf(typeName)
		switch ti.Kind {
		case TypeVoid:
			return NullValue(ti.Name)
		case TypePrimitive:
			return primValue(ti.Prim, ti.Name, uint64(raw))
		case TypeEnum:
			return d.enumFromBits(ti.cls, uint64(raw))
		case TypeStruct:
			return RawValue(raw, ti.Name)
		}
		return d.decode(raw, ti, d.opts.Limits, 0)
	})
}

func (d *Decoder) guard(p host.Pointer, typeName string, fn func() Value) (v Value) {
	err := safe.Do(func() { v = fn() })
	if err != nil {
		d.log.Debug("decode recovered", zap.Stringer("addr", p), zap.String("type", typeName), zap.Error(err))
		return InaccessibleValue(p, typeName)
	}
	return v
}

// TypeOf classifies typeName once per session, refining object-looking
// names into enums, structs and collections through class metadata. A
// classification that hit a metadata failure is used once and not memoized.
func (d *Decoder) TypeOf(typeName string) TypeInfo {
	if v, ok := d.state.types.Load(typeName); ok {
		return v.(TypeInfo)
	}
	ti := ParseType(typeName)
	settled := true
	if ti.Kind == TypeObject {
		settled = d.refine(&ti)
	}
	if settled {
		d.state.types.Store(typeName, ti)
	}
	return ti
}

// refine reports false when class metadata could not be consulted.
func (d *Decoder) refine(ti *TypeInfo) bool {
	cls, settled := d.findClass(ti.Base, len(ti.Args))
	if cls == nil {
		return settled
	}
	switch {
	case cls.IsEnum:
		ti.Kind = TypeEnum
		ti.cls = cls
		ti.Prim = d.enumInfo(cls).prim
	case cls.IsValueType:
		ti.Kind = TypeStruct
		ti.cls = cls
	case d.shape(cls).Known():
		ti.Kind = TypeCollection
	}
	return true
}

// findClass looks base up by name and by its generic arity name. The bool is
// false when a lookup failed for a reason other than the class being absent.
func (d *Decoder) findClass(base string, arity int) (*host.ClassDescriptor, bool) {
	names := []string{base}
	if arity > 0 {
		names = append(names, base+"`"+strconv.Itoa(arity))
	}
	settled := true
	for _, name := range names {
		var cls *host.ClassDescriptor
		err := safe.Call(func() error {
			var err error
			cls, err = d.src.FindClass(name)
			return err
		})
		if err == nil && cls != nil {
			return cls, true
		}
		if err != nil && !errors.Is(err, host.ErrClassNotFound) {
			settled = false
		}
	}
	return nil, settled
}

func (d *Decoder) classOf(p host.Pointer) (*host.ClassDescriptor, error) {
	var cls *host.ClassDescriptor
	err := safe.Call(func() error {
		var err error
		cls, err = d.src.ClassOf(p)
		return err
	})
	if err == nil && cls == nil {
		err = host.ErrClassNotFound
	}
	return cls, err
}

func (d *Decoder) decode(p host.Pointer, ti TypeInfo, lim Limits, depth int) Value {
	if p.IsNull() {
		return NullValue(ti.Name)
	}
	switch ti.Kind {
	case TypeByteArray:
		return d.byteArray(p, ti.Name, lim)
	case TypeArray:
		return d.array(p, ti.Name, lim)
	case TypeString:
		return d.str(p, lim)
	case TypePrimitive:
		return d.primitive(p, ti)
	case TypeEnum:
		return d.enumAt(p, ti.cls)
	case TypeStruct:
		return d.structAt(p, ti.cls, lim, depth)
	case TypeVoid:
		return NullValue(ti.Name)
	}
	return d.object(p, ti, lim, depth)
}

func (d *Decoder) byteArray(p host.Pointer, typeName string, lim Limits) Value {
	const label = "ByteArray"
	n, err := d.r.I32(p.Add(d.opts.Offsets.ArrayLength))
	if err != nil || n < 0 || int(n) > lim.MaxLength {
		return RawValue(p, label)
	}
	v := Value{Kind: KindBytes, Type: typeName, Addr: p, Length: int(n)}
	k := min(int(n), lim.BytePreview)
	if k > 0 {
		b, err := d.r.Bytes(p.Add(d.opts.Offsets.ArrayData), k)
		if err != nil {
			return RawValue(p, label)
		}
		v.Bytes = b
	}
	v.Truncated = int(n) > k
	if allZero(v.Bytes) {
		v.LooksEmpty = d.sampleEmpty(p, int(n), k)
	}
	return v
}

// sampleEmpty probes a few interior bytes beyond the preview prefix.
func (d *Decoder) sampleEmpty(p host.Pointer, n, prefix int) bool {
	data := p.Add(d.opts.Offsets.ArrayData)
	for _, off := range []int{n / 4, n / 2, 3 * n / 4, n - 1} {
		if off < prefix || off >= n {
			continue
		}
		b, err := d.r.U8(data.Add(int64(off)))
		if err != nil || b != 0 {
			return false
		}
	}
	return true
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (d *Decoder) array(p host.Pointer, typeName string, lim Limits) Value {
	n, err := d.r.I32(p.Add(d.opts.Offsets.ArrayLength))
	if err != nil || n < 0 || int(n) > lim.MaxLength {
		return RawValue(p, typeName)
	}
	return Value{Kind: KindArray, Type: typeName, Addr: p, Length: int(n)}
}

func (d *Decoder) str(p host.Pointer, lim Limits) Value {
	var (
		s     string
		units int
	)
	bounded, ok := d.src.(host.BoundedStrings)
	err := safe.Call(func() error {
		var err error
		if ok && lim.MaxString >= 0 {
			// Two code units per rune at most, so this prefix holds MaxString runes.
			s, units, err = bounded.ReadStringPrefix(p, 2*lim.MaxString)
			return err
		}
		s, err = d.src.ReadString(p)
		units = utf16Len(s)
		return err
	})
	if err != nil {
		return RawValue(p, "")
	}
	v := Value{Kind: KindString, Type: "System.String", Addr: p, Length: units}
	v.Text, v.Truncated = truncateRunes(s, lim.MaxString)
	if utf16Len(v.Text) < units {
		v.Truncated = true
	}
	return v
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func truncateRunes(s string, n int) (string, bool) {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

func (d *Decoder) readBits(p host.Pointer, size int) (uint64, error) {
	switch size {
	case 1:
		v, err := d.r.U8(p)
		return uint64(v), err
	case 2:
		v, err := d.r.U16(p)
		return uint64(v), err
	case 4:
		v, err := d.r.U32(p)
		return uint64(v), err
	case 8:
		return d.r.U64(p)
	}
	return 0, fmt.Errorf("decode: unsupported width %d", size)
}

func (d *Decoder) primitive(p host.Pointer, ti TypeInfo) Value {
	bits, err := d.readBits(p, ti.Prim.Size())
	if err != nil {
		return RawValue(p, ti.Name)
	}
	v := primValue(ti.Prim, ti.Name, bits)
	v.Addr = p
	return v
}

func primValue(prim Prim, typeName string, bits uint64) Value {
	v := Value{Type: typeName, Prim: prim}
	switch prim {
	case PrimBool:
		v.Kind = KindBool
		v.Bool = bits&0xff != 0
	case PrimI8:
		v.Kind, v.Int = KindInt, int64(int8(bits))
	case PrimI16:
		v.Kind, v.Int = KindInt, int64(int16(bits))
	case PrimI32:
		v.Kind, v.Int = KindInt, int64(int32(bits))
	case PrimI64, PrimIntPtr:
		v.Kind, v.Int = KindInt, int64(bits)
	case PrimU8:
		v.Kind, v.Uint = KindUint, bits&0xff
	case PrimChar, PrimU16:
		v.Kind, v.Uint = KindUint, bits&0xffff
	case PrimU32:
		v.Kind, v.Uint = KindUint, bits&0xffffffff
	case PrimU64, PrimUIntPtr:
		v.Kind, v.Uint = KindUint, bits
	case PrimF32:
		v.Kind, v.Float = KindFloat, float64(math.Float32frombits(uint32(bits)))
	case PrimF64:
		v.Kind, v.Float = KindFloat, math.Float64frombits(bits)
	default:
		v.Kind, v.Uint = KindRaw, bits
	}
	return v
}

func (d *Decoder) object(p host.Pointer, ti TypeInfo, lim Limits, depth int) Value {
	cls, err := d.classOf(p)
	if err != nil {
		return InaccessibleValue(p, ti.Name)
	}
	hdr := d.opts.Offsets.ObjectHeader
	name := cls.FullName()
	switch {
	case cls.IsEnum:
		return d.enumAt(p.Add(hdr), cls)
	case name == "System.String":
		return d.str(p, lim)
	case strings.HasSuffix(cls.Name, "[]"):
		rt := ParseType(name)
		if rt.Kind == TypeByteArray {
			return d.byteArray(p, name, lim)
		}
		return d.array(p, name, lim)
	}
	if rt := ParseType(name); rt.Kind == TypePrimitive {
		return d.primitive(p.Add(hdr), rt)
	}
	if sh := d.shape(cls); sh.Known() {
		return d.collection(p, cls, sh, ti, lim, depth)
	}
	return d.fields(p, p, cls, lim, depth)
}

func (d *Decoder) structAt(addr host.Pointer, cls *host.ClassDescriptor, lim Limits, depth int) Value {
	if cls == nil {
		return RawValue(addr, "")
	}
	// Value-type field offsets include the object header of the boxed form.
	return d.fields(addr, addr.Add(-d.opts.Offsets.ObjectHeader), cls, lim, depth)
}
