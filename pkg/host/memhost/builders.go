package memhost

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/daimatz/goprobe/pkg/host"
)

// InstanceSize returns the object size needed to hold cls's instance fields.
func InstanceSize(cls *host.ClassDescriptor) int {
	size := ObjectHeaderSize
	for _, f := range cls.Fields {
		if f.IsStatic {
			continue
		}
		if end := int(f.Offset) + host.PointerSize; end > size {
			size = end
		}
	}
	return size
}

// NewObject allocates size bytes and writes cls's class pointer into the header.
func (h *Heap) NewObject(cls *host.ClassDescriptor, size int) host.Pointer {
	if size < ObjectHeaderSize {
		size = ObjectHeaderSize
	}
	p := h.Alloc(size)
	h.WritePointer(p, cls.Klass)
	return p
}

// New allocates an instance of cls large enough for its declared fields.
func (h *Heap) New(cls *host.ClassDescriptor) host.Pointer {
	return h.NewObject(cls, InstanceSize(cls))
}

// NewString allocates a managed string holding s.
func (h *Heap) NewString(s string) host.Pointer {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	units, err := enc.Bytes([]byte(s))
	if err != nil {
		panic("memhost: encoding string: " + err.Error())
	}
	lay := host.DefaultStringLayout
	p := h.NewObject(h.StringClass, int(lay.CharsOffset)+len(units)+2)
	h.WriteI32(p.Add(lay.LengthOffset), int32(len(units)/2))
	h.Write(p.Add(lay.CharsOffset), units)
	return p
}

// NewRawString allocates a string object with the given length header and
// UTF-16 code units, which need not be well formed.
func (h *Heap) NewRawString(length int32, units []uint16) host.Pointer {
	lay := host.DefaultStringLayout
	p := h.NewObject(h.StringClass, int(lay.CharsOffset)+2*len(units)+2)
	h.WriteI32(p.Add(lay.LengthOffset), length)
	for i, u := range units {
		h.WriteU16(p.Add(lay.CharsOffset+int64(2*i)), u)
	}
	return p
}

// NewByteArray allocates a System.Byte[] holding b.
func (h *Heap) NewByteArray(b []byte) host.Pointer {
	p := h.NewObject(h.ByteArrayClass, ArrayDataOffset+len(b))
	h.WriteI64(p.Add(ArrayLengthOffset), int64(len(b)))
	if len(b) > 0 {
		h.Write(p.Add(ArrayDataOffset), b)
	}
	return p
}

// NewArray allocates a reference array of elems using class cls.
func (h *Heap) NewArray(cls *host.ClassDescriptor, elems []host.Pointer) host.Pointer {
	if cls == nil {
		cls = h.ArrayClass
	}
	p := h.NewObject(cls, ArrayDataOffset+host.PointerSize*len(elems))
	h.WriteI64(p.Add(ArrayLengthOffset), int64(len(elems)))
	for i, e := range elems {
		h.WritePointer(p.Add(int64(ArrayDataOffset+host.PointerSize*i)), e)
	}
	return p
}

// ListClass defines a List`1 class in System.Collections.Generic.
func (h *Heap) ListClass() *host.ClassDescriptor {
	return h.Define("mscorlib", &host.ClassDescriptor{
		Namespace: "System.Collections.Generic",
		Name:      "List`1",
		Fields: []host.FieldDescriptor{
			{Name: "_items", TypeName: "T[]", Offset: ListItemsOffset},
			{Name: "_size", TypeName: "System.Int32", Offset: ListSizeOffset},
			{Name: "_version", TypeName: "System.Int32", Offset: ListSizeOffset + 4},
		},
	})
}

// NewList allocates a list of cls whose backing array holds items.
func (h *Heap) NewList(cls *host.ClassDescriptor, items []host.Pointer) host.Pointer {
	arr := h.NewArray(nil, items)
	p := h.New(cls)
	h.WritePointer(p.Add(ListItemsOffset), arr)
	h.WriteI32(p.Add(ListSizeOffset), int32(len(items)))
	return p
}

// DictionaryClass defines a Dictionary`2 class in System.Collections.Generic.
func (h *Heap) DictionaryClass() *host.ClassDescriptor {
	return h.Define("mscorlib", &host.ClassDescriptor{
		Namespace: "System.Collections.Generic",
		Name:      "Dictionary`2",
		Fields: []host.FieldDescriptor{
			{Name: "_buckets", TypeName: "System.Int32[]", Offset: 0x10},
			{Name: "_entries", TypeName: "Entry[]", Offset: DictEntriesOffset},
			{Name: "_count", TypeName: "System.Int32", Offset: DictCountOffset},
			{Name: "_version", TypeName: "System.Int32", Offset: DictCountOffset + 4},
		},
	})
}

// NewDictionary lays out the entries of b behind a dictionary object of cls.
func (h *Heap) NewDictionary(cls *host.ClassDescriptor, b *DictBuilder) host.Pointer {
	stride, keyOff, valOff := EntryLayout(b.KeySize, b.ValueSize)
	n := len(b.keys)
	arr := h.NewObject(h.ArrayClass, ArrayDataOffset+stride*n)
	h.WriteI64(arr.Add(ArrayLengthOffset), int64(n))
	for i, k := range b.keys {
		e := arr.Add(int64(ArrayDataOffset + stride*i))
		if b.free[i] {
			h.WriteI32(e, -1)
			h.WriteI32(e.Add(4), -2)
			continue
		}
		h.WriteI32(e, int32(k&0x7fffffff))
		h.WriteI32(e.Add(4), -1)
		h.writeSized(e.Add(int64(keyOff)), b.KeySize, k)
		h.writeSized(e.Add(int64(valOff)), b.ValueSize, b.values[i])
	}
	p := h.New(cls)
	h.WritePointer(p.Add(DictEntriesOffset), arr)
	h.WriteI32(p.Add(DictCountOffset), int32(n))
	return p
}

func (h *Heap) writeSized(p host.Pointer, size int, v uint64) {
	switch size {
	case 1:
		h.WriteU8(p, uint8(v))
	case 2:
		h.WriteU16(p, uint16(v))
	case 4:
		h.WriteI32(p, int32(v))
	default:
		h.WriteU64(p, v)
	}
}

// EntryLayout returns the stride and key/value offsets of a dictionary entry
// {int32 hashCode; int32 next; K key; V value} for the given slot sizes.
func EntryLayout(keySize, valueSize int) (stride, keyOff, valueOff int) {
	keyOff = 8
	valueOff = align(keyOff+keySize, valueSize)
	maxAlign := 4
	if keySize > maxAlign {
		maxAlign = keySize
	}
	if valueSize > maxAlign {
		maxAlign = valueSize
	}
	stride = align(valueOff+valueSize, maxAlign)
	return stride, keyOff, valueOff
}

func align(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// DictBuilder collects dictionary entries in insertion order before layout.
type DictBuilder struct {
	KeySize   int
	ValueSize int

	keys   []uint64
	values []uint64
	free   []bool
}

// NewDictBuilder creates a builder for entries with the given slot sizes.
func NewDictBuilder(keySize, valueSize int) *DictBuilder {
	return &DictBuilder{KeySize: keySize, ValueSize: valueSize}
}

// Put stores a key-value pair and returns the previous value.
func (b *DictBuilder) Put(key, value uint64) (uint64, bool) {
	for i, k := range b.keys {
		if k == key && !b.free[i] {
			old := b.values[i]
			b.values[i] = value
			return old, true
		}
	}
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	b.free = append(b.free, false)
	return 0, false
}

// Get returns the value stored for key.
func (b *DictBuilder) Get(key uint64) (uint64, bool) {
	for i, k := range b.keys {
		if k == key && !b.free[i] {
			return b.values[i], true
		}
	}
	return 0, false
}

// PutFree appends a freed entry slot.
func (b *DictBuilder) PutFree() {
	b.keys = append(b.keys, 0)
	b.values = append(b.values, 0)
	b.free = append(b.free, true)
}

// Len returns the number of live entries.
func (b *DictBuilder) Len() int {
	n := 0
	for _, f := range b.free {
		if !f {
			n++
		}
	}
	return n
}
