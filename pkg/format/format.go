// Package format renders decoded values as bounded, single-line text.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daimatz/goprobe/pkg/decode"
)

// Int64Mode selects how 64-bit integers are rendered.
type Int64Mode int

const (
	Int64Dec Int64Mode = iota
	Int64Hex
	Int64Both
)

var int64ModeNames = [...]string{
	Int64Dec:  "dec",
	Int64Hex:  "hex",
	Int64Both: "both",
}

func (m Int64Mode) String() string {
	if int(m) < len(int64ModeNames) {
		return int64ModeNames[m]
	}
	return "Int64Mode(" + strconv.Itoa(int(m)) + ")"
}

// ParseInt64Mode parses "dec", "hex" or "both".
func ParseInt64Mode(s string) (Int64Mode, error) {
	for i, name := range int64ModeNames {
		if strings.EqualFold(s, name) {
			return Int64Mode(i), nil
		}
	}
	return Int64Dec, fmt.Errorf("format: unknown int64 mode %q", s)
}

// DefaultEllipsis marks truncated text and omitted entries.
const DefaultEllipsis = "…"

// Options configure a Formatter.
type Options struct {
	Int64Mode Int64Mode
	Ellipsis  string
}

// DefaultOptions returns decimal int64 rendering with the default ellipsis.
func DefaultOptions() Options {
	return Options{Int64Mode: Int64Dec, Ellipsis: DefaultEllipsis}
}

// Formatter renders Values. It holds no mutable state and is safe for
// concurrent use.
type Formatter struct {
	opts Options
}

// New creates a Formatter.
func New(opts Options) *Formatter {
	if opts.Ellipsis == "" {
		opts.Ellipsis = DefaultEllipsis
	}
	return &Formatter{opts: opts}
}

// Format renders v for display on its own. Top-level strings are shown bare.
func (f *Formatter) Format(v decode.Value) string {
	if v.Kind == decode.KindString {
		return f.truncated(v.Text, v.Truncated)
	}
	return f.Summary(v)
}

// Summary renders v in the compact form used inside argument lists, field
// previews and dictionary entries.
func (f *Formatter) Summary(v decode.Value) string {
	var b strings.Builder
	f.write(&b, v)
	return b.String()
}

// FieldView is the structured form of one previewed field.
type FieldView struct {
	Name   string
	Type   string
	Static bool
	Text   string
}

// Fields returns the previewed fields of an object value.
func (f *Formatter) Fields(v decode.Value) []FieldView {
	if v.Kind != decode.KindObject {
		return nil
	}
	out := make([]FieldView, 0, len(v.Fields))
	for _, fd := range v.Fields {
		out = append(out, FieldView{
			Name:   fd.Name,
			Type:   fd.Value.Type,
			Static: fd.Static,
			Text:   f.Summary(fd.Value),
		})
	}
	return out
}

func (f *Formatter) truncated(s string, trunc bool) string {
	if trunc {
		return s + f.opts.Ellipsis
	}
	return s
}

func (f *Formatter) write(b *strings.Builder, v decode.Value) {
	switch v.Kind {
	case decode.KindNull:
		b.WriteString("null")
	case decode.KindBool:
		b.WriteString(strconv.FormatBool(v.Bool))
	case decode.KindInt:
		f.writeInt(b, v)
	case decode.KindUint:
		f.writeUint(b, v)
	case decode.KindFloat:
		bits := 64
		if v.Prim == decode.PrimF32 {
			bits = 32
		}
		b.WriteString(strconv.FormatFloat(v.Float, 'g', -1, bits))
	case decode.KindString:
		b.WriteString(strconv.Quote(v.Text))
		if v.Truncated {
			b.WriteString(f.opts.Ellipsis)
		}
	case decode.KindBytes:
		f.writeBytes(b, v)
	case decode.KindArray:
		fmt.Fprintf(b, "%s[%d]", strings.TrimSuffix(v.Type, "[]"), v.Length)
	case decode.KindEnum:
		if v.Text != "" {
			b.WriteString(v.Text)
		} else {
			fmt.Fprintf(b, "%d (%s)", v.Int, v.Type)
		}
	case decode.KindCollection:
		f.writeCollection(b, v)
	case decode.KindObject:
		f.writeObject(b, v)
	case decode.KindRaw:
		if v.Text != "" {
			b.WriteString(v.Text)
		} else {
			b.WriteString(v.Addr.String())
		}
	case decode.KindInaccessible:
		fmt.Fprintf(b, "<inaccessible %s>", v.Addr)
	default:
		fmt.Fprintf(b, "<%s>", v.Kind)
	}
}

func (f *Formatter) writeInt(b *strings.Builder, v decode.Value) {
	switch v.Prim {
	case decode.PrimI64, decode.PrimIntPtr:
		b.WriteString(f.int64Text(strconv.FormatInt(v.Int, 10), uint64(v.Int)))
	default:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	}
}

func (f *Formatter) writeUint(b *strings.Builder, v decode.Value) {
	switch v.Prim {
	case decode.PrimChar:
		b.WriteString(strconv.QuoteRune(rune(v.Uint)))
	case decode.PrimU64, decode.PrimUIntPtr:
		b.WriteString(f.int64Text(strconv.FormatUint(v.Uint, 10), v.Uint))
	default:
		b.WriteString(strconv.FormatUint(v.Uint, 10))
	}
}

// int64Text renders a 64-bit value per the configured mode. In "both" mode
// the hex form is dropped when its digits read the same as the decimal.
func (f *Formatter) int64Text(dec string, bits uint64) string {
	digits := strconv.FormatUint(bits, 16)
	switch f.opts.Int64Mode {
	case Int64Hex:
		return "0x" + digits
	case Int64Both:
		if digits == dec {
			return dec
		}
		return dec + " (0x" + digits + ")"
	}
	return dec
}

func (f *Formatter) writeBytes(b *strings.Builder, v decode.Value) {
	fmt.Fprintf(b, "byte[%d]", v.Length)
	if v.Length == 0 {
		return
	}
	if v.LooksEmpty {
		b.WriteString(" (empty)")
		return
	}
	for _, c := range v.Bytes {
		fmt.Fprintf(b, " %02x", c)
	}
	if v.Truncated {
		b.WriteString(" " + f.opts.Ellipsis)
	}
}

func (f *Formatter) writeCollection(b *strings.Builder, v decode.Value) {
	fmt.Fprintf(b, "%s[%d]", v.Collection, v.Size)
	if len(v.Entries) == 0 {
		return
	}
	b.WriteString(" {")
	for i, e := range v.Entries {
		if i > 0 {
			b.WriteString(", ")
		}
		f.write(b, e.Key)
		b.WriteString(": ")
		f.write(b, e.Value)
	}
	f.writeOmitted(b, v.Omitted, len(v.Entries) > 0)
	b.WriteByte('}')
}

func (f *Formatter) writeObject(b *strings.Builder, v decode.Value) {
	b.WriteString(v.Type)
	b.WriteByte('@')
	b.WriteString(v.Addr.String())
	if len(v.Fields) == 0 {
		if v.Omitted > 0 {
			b.WriteString(" {" + f.opts.Ellipsis + "}")
		}
		return
	}
	b.WriteString(" {")
	for i, fd := range v.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fd.Name)
		b.WriteString(": ")
		f.write(b, fd.Value)
	}
	f.writeOmitted(b, v.Omitted, true)
	b.WriteByte('}')
}

func (f *Formatter) writeOmitted(b *strings.Builder, n int, sep bool) {
	if n <= 0 {
		return
	}
	if sep {
		b.WriteString(", ")
	}
	fmt.Fprintf(b, "%s+%d", f.opts.Ellipsis, n)
}
