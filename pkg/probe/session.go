// Package probe ties the resolver, hook manager, decoder and formatter to one
// host for the lifetime of an analysis session. All memoized state lives in
// the Session, so independent sessions never interfere.
package probe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daimatz/goprobe/pkg/config"
	"github.com/daimatz/goprobe/pkg/decode"
	"github.com/daimatz/goprobe/pkg/format"
	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/resolve"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("probe: session closed")

// Session is a long-lived engine instance bound to one host.
type Session struct {
	ID uuid.UUID

	cfg *config.Config
	log *zap.Logger

	state     *decode.State
	dec       *decode.Decoder
	formatter *format.Formatter
	res       *resolve.Resolver
	hooks     *hook.Manager

	dumped  sync.Map // host.Pointer -> struct{}
	ndumped atomic.Int64
	closed  atomic.Bool
}

// New creates a session. A nil cfg uses config.DefaultConfig.
func New(h host.Host, cfg *config.Config, log *zap.Logger) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.New()
	log = log.With(zap.Stringer("session", id))
	state := decode.NewState()
	return &Session{
		ID:        id,
		cfg:       cfg,
		log:       log,
		state:     state,
		dec:       decode.New(h, state, cfg.DecodeOptions(), log.Named("decode")),
		formatter: format.New(cfg.FormatOptions()),
		res:       resolve.New(h, log.Named("resolve")),
		hooks:     hook.NewManager(h, log.Named("hook")),
	}
}

// Config returns the session configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger { return s.log }

// Resolve resolves t. A failed resolution is logged with suggestions.
func (s *Session) Resolve(t resolve.Target) (*resolve.Resolution, error) {
	res, err := s.res.Resolve(t)
	if errors.Is(err, resolve.ErrNotFound) {
		s.log.Warn("class not resolved",
			zap.Error(err),
			zap.Strings("suggestions", s.res.Suggest(t, 5)))
	}
	return res, err
}

// ResolveConfigured resolves the target named by the configuration.
func (s *Session) ResolveConfigured() (*resolve.Resolution, error) {
	return s.Resolve(s.cfg.ResolveTarget())
}

// Suggest lists classes whose name contains the target class name.
func (s *Session) Suggest(t resolve.Target, limit int) []string {
	return s.res.Suggest(t, limit)
}

// Methods returns the hookable methods of cls passing f.
func (s *Session) Methods(cls *host.ClassDescriptor, f resolve.MethodFilter) []*host.MethodDescriptor {
	return resolve.BuildMethodList(cls, f)
}

// ConfiguredMethods returns the methods of cls passing the configured filter.
func (s *Session) ConfiguredMethods(cls *host.ClassDescriptor) ([]*host.MethodDescriptor, error) {
	f, err := s.cfg.MethodFilter()
	if err != nil {
		return nil, err
	}
	return resolve.BuildMethodList(cls, f), nil
}

// Hook installs cb on methods with the configured pacing and cap.
func (s *Session) Hook(ctx context.Context, methods []*host.MethodDescriptor, cb hook.Callbacks) (*hook.Report, error) {
	return s.HookWith(ctx, methods, cb, s.cfg.HookOptions())
}

// HookWith installs cb on methods with explicit options.
func (s *Session) HookWith(ctx context.Context, methods []*host.MethodDescriptor, cb hook.Callbacks, opts hook.Options) (*hook.Report, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.hooks.Install(ctx, methods, cb, opts)
}

// Decode decodes the value at p.
func (s *Session) Decode(p host.Pointer, typeName string) decode.Value {
	return s.dec.Decode(p, typeName)
}

// DecodeArg decodes a register-sized argument or return value.
func (s *Session) DecodeArg(raw host.Pointer, typeName string) decode.Value {
	return s.dec.DecodeArg(raw, typeName)
}

// Format renders v as standalone text.
func (s *Session) Format(v decode.Value) string { return s.formatter.Format(v) }

// Summary renders v in compact form.
func (s *Session) Summary(v decode.Value) string { return s.formatter.Summary(v) }

// Fields returns the structured field preview of v.
func (s *Session) Fields(v decode.Value) []format.FieldView { return s.formatter.Fields(v) }

// PreviewFields lists the field names an object preview of cls shows.
func (s *Session) PreviewFields(cls *host.ClassDescriptor) []string {
	return s.dec.PreviewFields(cls)
}

// Render decodes and formats the value at p.
func (s *Session) Render(p host.Pointer, typeName string) string {
	return s.formatter.Format(s.dec.Decode(p, typeName))
}

// Dump renders the object at p. With deduplication enabled an address is
// rendered only once per session; later calls return false.
func (s *Session) Dump(p host.Pointer, typeName string) (string, bool) {
	if s.cfg.Dump.Dedup && !p.IsNull() {
		if _, seen := s.dumped.LoadOrStore(p, struct{}{}); seen {
			return "", false
		}
		s.ndumped.Add(1)
	}
	return s.Render(p, typeName), true
}

// Stats is a snapshot of session counters.
type Stats struct {
	Hooks  hook.Stats
	Dumped int64
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{Hooks: s.hooks.Stats(), Dumped: s.ndumped.Load()}
}

// Handles returns the active hook handles.
func (s *Session) Handles() []*hook.Handle { return s.hooks.Handles() }

// Close detaches every hook and drops all memoized state. It is idempotent.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := s.hooks.DetachAll()
	s.state.Reset()
	s.dumped.Clear()
	s.log.Info("session closed", zap.Int("detached", n))
	return nil
}
