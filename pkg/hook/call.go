package hook

import (
	"time"

	"github.com/daimatz/goprobe/pkg/host"
)

// Arg is one argument of an intercepted call paired with its declared type.
type Arg struct {
	Name     string
	TypeName string
	Raw      host.Pointer
}

// Call is the per-invocation context shared by the enter and leave
// callbacks of one intercepted call.
type Call struct {
	Method   *host.MethodDescriptor
	ThreadID uint64
	FrameID  uint64

	// Receiver is the instance for non-static methods.
	Receiver    host.Pointer
	HasReceiver bool
	Args        []Arg

	Start time.Time
	// Return is set before the leave callback runs.
	Return host.Pointer

	// Data is free for the consumer to carry state from enter to leave.
	Data interface{}
}

// Elapsed returns the time since the call was entered.
func (c *Call) Elapsed() time.Duration { return time.Since(c.Start) }

func newCall(m *host.MethodDescriptor, inv *host.Invocation) *Call {
	c := &Call{
		Method:   m,
		ThreadID: inv.ThreadID,
		FrameID:  inv.FrameID,
		Start:    time.Now(),
	}
	raw := inv.Args
	if !m.IsStatic && len(raw) > 0 {
		c.Receiver, c.HasReceiver = raw[0], true
		raw = raw[1:]
	}
	c.Args = make([]Arg, len(m.Parameters))
	for i, p := range m.Parameters {
		c.Args[i] = Arg{Name: p.Name, TypeName: p.TypeName}
		if i < len(raw) {
			c.Args[i].Raw = raw[i]
		}
	}
	return c
}

type callKey struct {
	hook   *Handle
	thread uint64
	frame  uint64
}
