package host

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// MaxStringChars bounds the length accepted from a managed string header.
const MaxStringChars = 1 << 20

// StringLayout locates the length and UTF-16 payload of a managed string.
type StringLayout struct {
	LengthOffset int64
	CharsOffset  int64
}

// DefaultStringLayout is the 64-bit IL2CPP System.String layout.
var DefaultStringLayout = StringLayout{LengthOffset: 0x10, CharsOffset: 0x14}

// BoundedStrings is implemented by hosts that can materialize a prefix of a
// managed string without reading the rest of it.
type BoundedStrings interface {
	// ReadStringPrefix decodes at most maxUnits UTF-16 code units of the
	// string at p and returns them with the string's full length in code units.
	ReadStringPrefix(p Pointer, maxUnits int) (string, int, error)
}

// ReadManagedString reads a UTF-16LE managed string. Malformed code units
// decode to U+FFFD rather than failing.
func ReadManagedString(mem Memory, p Pointer, layout StringLayout) (string, error) {
	s, _, err := ReadManagedStringPrefix(mem, p, layout, MaxStringChars)
	return s, err
}

// ReadManagedStringPrefix is ReadManagedString reading at most maxUnits code
// units. It also returns the length recorded in the string header.
func ReadManagedStringPrefix(mem Memory, p Pointer, layout StringLayout, maxUnits int) (string, int, error) {
	r := Reader{Mem: mem}
	n, err := r.I32(p.Add(layout.LengthOffset))
	if err != nil {
		return "", 0, fmt.Errorf("string length: %w", err)
	}
	if n < 0 || n > MaxStringChars {
		return "", 0, fmt.Errorf("string at %s: implausible length %d: %w", p, n, ErrBadAddress)
	}
	units := min(int(n), maxUnits)
	if units <= 0 {
		return "", int(n), nil
	}
	raw, err := r.Bytes(p.Add(layout.CharsOffset), units*2)
	if err != nil {
		return "", 0, fmt.Errorf("string chars: %w", err)
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(raw)
	if err != nil {
		return "", 0, fmt.Errorf("string decode: %w", err)
	}
	return string(out), int(n), nil
}
