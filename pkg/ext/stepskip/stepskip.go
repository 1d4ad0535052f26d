// Package stepskip forces the return value of matching methods, typically
// turning pacing checks such as ShouldWait into immediate "false".
package stepskip

import (
	"context"
	"regexp"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/probe"
	"github.com/daimatz/goprobe/pkg/resolve"
)

// DefaultPattern matches the usual wait checks.
var DefaultPattern = regexp.MustCompile(`^(ShouldWait|IsWaiting|CanSkip)`)

// Options configure a Skipper.
type Options struct {
	// Pattern selects the methods to override; nil uses DefaultPattern.
	Pattern *regexp.Regexp
	// Return is the register value returned instead; zero is false.
	Return host.Pointer
}

// Skipper overrides return values and counts the steps it skipped.
type Skipper struct {
	s    *probe.Session
	log  *zap.Logger
	opts Options

	calls   atomic.Int64
	skipped atomic.Int64
}

// New creates a Skipper.
func New(s *probe.Session, opts Options) *Skipper {
	if opts.Pattern == nil {
		opts.Pattern = DefaultPattern
	}
	return &Skipper{s: s, log: s.Logger().Named("stepskip"), opts: opts}
}

// Attach resolves t and hooks its methods matching the pattern.
func (k *Skipper) Attach(ctx context.Context, t resolve.Target) (*hook.Report, error) {
	res, err := k.s.Resolve(t)
	if err != nil {
		return nil, err
	}
	methods := k.s.Methods(res.Class, resolve.MethodFilter{Pattern: k.opts.Pattern})
	return k.s.Hook(ctx, methods, hook.Callbacks{OnLeave: k.leave})
}

func (k *Skipper) leave(c *hook.Call, ret *host.Return) {
	k.calls.Add(1)
	if ret.Value == k.opts.Return {
		return
	}
	ret.Replace(k.opts.Return)
	n := k.skipped.Add(1)
	k.log.Debug("step skipped",
		zap.String("method", c.Method.FullName()),
		zap.Stringer("original", ret.Value),
		zap.Int64("skipped", n))
}

// Calls returns the number of intercepted calls.
func (k *Skipper) Calls() int64 { return k.calls.Load() }

// Skipped returns the number of calls whose return value was replaced.
func (k *Skipper) Skipped() int64 { return k.skipped.Load() }
