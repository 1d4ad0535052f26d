package decode

import (
	"strings"

	"github.com/daimatz/goprobe/pkg/host"
)

// shape classifies cls once per (namespace, name) and caches the answer.
// Concurrent first lookups of the same class share one metadata walk.
func (d *Decoder) shape(cls *host.ClassDescriptor) Shape {
	key := cls.Namespace + "." + cls.Name
	if v, ok := d.state.shapes.Load(key); ok {
		return v.(Shape)
	}
	v, _, _ := d.state.group.Do(key, func() (interface{}, error) {
		sh := classify(cls)
		d.state.shapes.Store(key, sh)
		return sh, nil
	})
	return v.(Shape)
}

func classify(cls *host.ClassDescriptor) Shape {
	has := func(names ...string) *host.FieldDescriptor {
		for _, n := range names {
			if f := cls.FindField(n); f != nil && !f.IsStatic {
				return f
			}
		}
		return nil
	}
	var sh Shape
	sh.List = has("_items") != nil && has("_size") != nil
	sh.Dictionary = has("_entries", "entries") != nil && has("_count", "count") != nil
	if f := has("_dictionary", "dictionary", "_dict"); f != nil {
		if strings.Contains(ParseType(f.TypeName).Base, "Dictionary") {
			sh.Multimap = true
			sh.Inner = f.TypeName
		}
	}
	return sh
}

func (d *Decoder) collection(p host.Pointer, cls *host.ClassDescriptor, sh Shape, ti TypeInfo, lim Limits, depth int) Value {
	args := ti.Args
	if len(args) == 0 {
		args = ParseType(cls.Name).Args
	}
	switch sh.Kind() {
	case CollMultimap:
		return d.multimap(p, cls.FullName(), sh, lim, depth)
	case CollDictionary:
		return d.dictionary(p, cls.FullName(), args, lim, depth)
	}
	return d.list(p, cls.FullName(), lim)
}

func (d *Decoder) count(p host.Pointer, off int64, lim Limits) (int, bool) {
	n, err := d.r.I32(p.Add(off))
	if err != nil || n < 0 || int(n) > lim.MaxLength {
		return 0, false
	}
	return int(n), true
}

func (d *Decoder) list(p host.Pointer, typeName string, lim Limits) Value {
	n, ok := d.count(p, d.opts.Offsets.ListSize, lim)
	if !ok {
		return RawValue(p, CollList.String())
	}
	return Value{Kind: KindCollection, Collection: CollList, Type: typeName, Addr: p, Size: n}
}

func (d *Decoder) multimap(p host.Pointer, typeName string, sh Shape, lim Limits, depth int) Value {
	inner, err := d.r.Pointer(p.Add(d.opts.Offsets.MultimapDictionary))
	if err != nil {
		return RawValue(p, CollMultimap.String())
	}
	v := Value{Kind: KindCollection, Collection: CollMultimap, Type: typeName, Addr: p}
	if inner.IsNull() {
		return v
	}
	dv := d.dictionary(inner, typeName, ParseType(sh.Inner).Args, lim, depth)
	if dv.Kind != KindCollection {
		return RawValue(p, CollMultimap.String())
	}
	v.Size, v.Entries, v.Omitted = dv.Size, dv.Entries, dv.Omitted
	return v
}

func (d *Decoder) dictionary(p host.Pointer, typeName string, args []string, lim Limits, depth int) Value {
	off := d.opts.Offsets
	n, ok := d.count(p, off.DictCount, lim)
	if !ok {
		return RawValue(p, CollDictionary.String())
	}
	v := Value{Kind: KindCollection, Collection: CollDictionary, Type: typeName, Addr: p, Size: n}
	v.Omitted = n
	if lim.MaxEntries <= 0 || n == 0 {
		return v
	}
	entries, err := d.r.Pointer(p.Add(off.DictEntries))
	if err != nil || entries.IsNull() {
		return v
	}

	keyTI, valTI := d.argType(args, 0), d.argType(args, 1)
	stride, keyOff, valOff := entryLayout(slotSize(keyTI), slotSize(valTI))
	data := entries.Add(off.ArrayData)
	nested := lim.nested()
	scan := min(n, lim.MaxEntries*4)
	for i := 0; i < scan && len(v.Entries) < lim.MaxEntries; i++ {
		e := data.Add(int64(i * stride))
		hash, err := d.r.I32(e)
		if err != nil {
			break
		}
		if hash < 0 {
			continue
		}
		v.Entries = append(v.Entries, Entry{
			Key:   d.slotOrRaw(e.Add(int64(keyOff)), keyTI, nested, depth+1),
			Value: d.slotOrRaw(e.Add(int64(valOff)), valTI, nested, depth+1),
		})
	}
	v.Omitted = n - len(v.Entries)
	return v
}

func (d *Decoder) argType(args []string, i int) TypeInfo {
	if i < len(args) && args[i] != "" {
		return d.TypeOf(args[i])
	}
	return d.TypeOf("System.Object")
}

// inline reports whether values of ti are stored in place rather than by reference.
func inline(ti TypeInfo) bool {
	switch ti.Kind {
	case TypePrimitive, TypeEnum, TypeStruct:
		return true
	}
	return false
}

func slotSize(ti TypeInfo) int {
	if (ti.Kind == TypePrimitive || ti.Kind == TypeEnum) && ti.Prim.Size() > 0 {
		return ti.Prim.Size()
	}
	return host.PointerSize
}

// slot decodes a value stored at addr: inline kinds in place, references
// through the pointer held there.
func (d *Decoder) slot(addr host.Pointer, ti TypeInfo, lim Limits, depth int) (Value, error) {
	if inline(ti) {
		return d.decode(addr, ti, lim, depth), nil
	}
	ref, err := d.r.Pointer(addr)
	if err != nil {
		return Value{}, err
	}
	return d.decode(ref, ti, lim, depth), nil
}

func (d *Decoder) slotOrRaw(addr host.Pointer, ti TypeInfo, lim Limits, depth int) Value {
	v, err := d.slot(addr, ti, lim, depth)
	if err != nil {
		return RawValue(addr, ti.Name)
	}
	return v
}

// entryLayout mirrors {int32 hashCode; int32 next; K key; V value}.
func entryLayout(keySize, valueSize int) (stride, keyOff, valueOff int) {
	keyOff = 8
	valueOff = alignUp(keyOff+keySize, valueSize)
	stride = alignUp(valueOff+valueSize, max(4, keySize, valueSize))
	return stride, keyOff, valueOff
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}
