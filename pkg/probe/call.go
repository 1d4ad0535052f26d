package probe

import (
	"github.com/daimatz/goprobe/pkg/decode"
	"github.com/daimatz/goprobe/pkg/hook"
)

// RenderedArg is one argument of an intercepted call in rendered form.
type RenderedArg struct {
	Name     string
	TypeName string
	Value    decode.Value
	Text     string
}

// CallArgs decodes and renders the arguments of c.
func (s *Session) CallArgs(c *hook.Call) []RenderedArg {
	out := make([]RenderedArg, len(c.Args))
	for i, a := range c.Args {
		v := s.dec.DecodeArg(a.Raw, a.TypeName)
		out[i] = RenderedArg{Name: a.Name, TypeName: a.TypeName, Value: v, Text: s.formatter.Summary(v)}
	}
	return out
}

// CallReceiver decodes the receiver of an instance call as its declaring class.
func (s *Session) CallReceiver(c *hook.Call) (decode.Value, bool) {
	if !c.HasReceiver || c.Method.Class == nil {
		return decode.Value{}, false
	}
	return s.dec.Decode(c.Receiver, c.Method.Class.FullName()), true
}

// CallReturn decodes the return value of c. It is meaningful only in a
// leave callback.
func (s *Session) CallReturn(c *hook.Call) decode.Value {
	t := c.Method.ReturnTypeName
	if t == "" {
		t = "System.Void"
	}
	return s.dec.DecodeArg(c.Return, t)
}
