package host

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PointerSize is the size of a target pointer in bytes.
const PointerSize = 8

// Reader decodes fixed-width little-endian values from a Memory.
// Every method fails with the underlying read error instead of panicking.
type Reader struct {
	Mem Memory
}

func (r Reader) read(p Pointer, n int) ([]byte, error) {
	if p.IsNull() {
		return nil, fmt.Errorf("read %d bytes at %s: %w", n, p, ErrBadAddress)
	}
	b, err := r.Mem.ReadBytes(p, n)
	if err != nil {
		return nil, err
	}
	if len(b) < n {
		return nil, fmt.Errorf("short read at %s: got %d bytes, want %d: %w", p, len(b), n, ErrBadAddress)
	}
	return b, nil
}

// U8 reads an unsigned byte.
func (r Reader) U8(p Pointer) (uint8, error) {
	b, err := r.read(p, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// I8 reads a signed byte.
func (r Reader) I8(p Pointer) (int8, error) {
	v, err := r.U8(p)
	return int8(v), err
}

// U16 reads a little-endian uint16.
func (r Reader) U16(p Pointer) (uint16, error) {
	b, err := r.read(p, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// I16 reads a little-endian int16.
func (r Reader) I16(p Pointer) (int16, error) {
	v, err := r.U16(p)
	return int16(v), err
}

// U32 reads a little-endian uint32.
func (r Reader) U32(p Pointer) (uint32, error) {
	b, err := r.read(p, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// I32 reads a little-endian int32.
func (r Reader) I32(p Pointer) (int32, error) {
	v, err := r.U32(p)
	return int32(v), err
}

// U64 reads a little-endian uint64.
func (r Reader) U64(p Pointer) (uint64, error) {
	b, err := r.read(p, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I64 reads a little-endian int64.
func (r Reader) I64(p Pointer) (int64, error) {
	v, err := r.U64(p)
	return int64(v), err
}

// F32 reads an IEEE-754 float32.
func (r Reader) F32(p Pointer) (float32, error) {
	v, err := r.U32(p)
	return math.Float32frombits(v), err
}

// F64 reads an IEEE-754 float64.
func (r Reader) F64(p Pointer) (float64, error) {
	v, err := r.U64(p)
	return math.Float64frombits(v), err
}

// Pointer reads a pointer stored at p.
func (r Reader) Pointer(p Pointer) (Pointer, error) {
	v, err := r.U64(p)
	return Pointer(v), err
}

// Bytes reads n raw bytes.
func (r Reader) Bytes(p Pointer, n int) ([]byte, error) {
	return r.read(p, n)
}
