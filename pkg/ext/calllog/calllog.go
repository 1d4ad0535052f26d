// Package calllog logs every intercepted call with its rendered arguments
// and, optionally, its return value.
package calllog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/probe"
)

// Options configure a Logger.
type Options struct {
	ShowReturn   bool
	ShowReceiver bool
}

// Logger writes one log entry per completed call.
type Logger struct {
	s    *probe.Session
	log  *zap.Logger
	opts Options
}

// New creates a Logger writing to log, or to the session logger when nil.
func New(s *probe.Session, log *zap.Logger, opts Options) *Logger {
	if log == nil {
		log = s.Logger().Named("calllog")
	}
	return &Logger{s: s, log: log, opts: opts}
}

// Attach hooks methods through the session.
func (l *Logger) Attach(ctx context.Context, methods []*host.MethodDescriptor) (*hook.Report, error) {
	return l.s.Hook(ctx, methods, hook.Callbacks{
		OnEnter: l.enter,
		OnLeave: l.leave,
	})
}

type pending struct {
	line     string
	receiver string
}

func (l *Logger) enter(c *hook.Call) error {
	p := &pending{line: Line(c, l.s.CallArgs(c))}
	if l.opts.ShowReceiver {
		if v, ok := l.s.CallReceiver(c); ok {
			p.receiver = l.s.Summary(v)
		}
	}
	c.Data = p
	return nil
}

func (l *Logger) leave(c *hook.Call, _ *host.Return) {
	p, _ := c.Data.(*pending)
	if p == nil {
		return
	}
	fields := []zap.Field{
		zap.String("call", p.line),
		zap.Uint64("thread", c.ThreadID),
		zap.Duration("elapsed", c.Elapsed()),
	}
	if p.receiver != "" {
		fields = append(fields, zap.String("this", p.receiver))
	}
	if l.opts.ShowReturn && c.Method.ReturnTypeName != "" && c.Method.ReturnTypeName != "System.Void" {
		fields = append(fields, zap.String("return", l.s.Summary(l.s.CallReturn(c))))
	}
	l.log.Info(c.Method.FullName(), fields...)
}

// Line renders a call as "Class.Method(name=value, ...)".
func Line(c *hook.Call, args []probe.RenderedArg) string {
	var b strings.Builder
	b.WriteString(c.Method.FullName())
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		if a.Name != "" {
			b.WriteString(a.Name)
			b.WriteByte('=')
		}
		b.WriteString(a.Text)
	}
	b.WriteByte(')')
	return b.String()
}
