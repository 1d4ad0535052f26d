// Package httpsum summarizes HTTP requests sent through a hooked request
// class: method, redacted URL and response status, grouped by registrable
// domain.
package httpsum

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/daimatz/goprobe/pkg/decode"
	"github.com/daimatz/goprobe/pkg/hook"
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/probe"
	"github.com/daimatz/goprobe/pkg/resolve"
)

// Redacted replaces query values in logged URLs.
const Redacted = "REDACTED"

// Field names probed on the request object, in order of preference.
var (
	urlFields    = []string{"url", "uri", "Url", "Uri", "_url"}
	methodFields = []string{"method", "Method", "_method", "verb"}
	statusFields = []string{"responseCode", "statusCode", "StatusCode", "_responseCode"}
)

// Options configure a Summarizer.
type Options struct {
	// Methods selects the request-sending methods; the default keeps
	// methods whose name contains "Send".
	Methods resolve.MethodFilter
}

// Request is one observed request.
type Request struct {
	Method string
	URL    string
	Domain string
	Status int64
}

// DomainStats aggregates the requests of one registrable domain.
type DomainStats struct {
	Domain   string
	Requests int
	Methods  map[string]int
	Statuses map[int64]int
}

// Summarizer collects request summaries.
type Summarizer struct {
	s    *probe.Session
	log  *zap.Logger
	opts Options

	mu      sync.Mutex
	domains map[string]*DomainStats
}

// New creates a Summarizer.
func New(s *probe.Session, opts Options) *Summarizer {
	if opts.Methods.Contains == "" && opts.Methods.Pattern == nil {
		opts.Methods.Contains = "Send"
	}
	return &Summarizer{
		s:       s,
		log:     s.Logger().Named("httpsum"),
		opts:    opts,
		domains: make(map[string]*DomainStats),
	}
}

// Attach resolves the request class and hooks its sending methods.
func (z *Summarizer) Attach(ctx context.Context, t resolve.Target) (*hook.Report, error) {
	res, err := z.s.Resolve(t)
	if err != nil {
		return nil, err
	}
	methods := z.s.Methods(res.Class, z.opts.Methods)
	if len(methods) == 0 {
		return nil, fmt.Errorf("httpsum: no request methods on %s", res.Class.FullName())
	}
	return z.s.Hook(ctx, methods, hook.Callbacks{OnEnter: z.enter, OnLeave: z.leave})
}

func (z *Summarizer) enter(c *hook.Call) error {
	obj, ok := z.s.CallReceiver(c)
	if !ok {
		return fmt.Errorf("httpsum: %s has no receiver", c.Method.FullName())
	}
	fields := fieldMap(obj)
	raw := text(fields, urlFields)
	if raw == "" {
		return fmt.Errorf("httpsum: no url field on %s", obj.Type)
	}
	c.Data = &Request{
		Method: strings.ToUpper(text(fields, methodFields)),
		URL:    Redact(raw),
		Domain: Domain(raw),
	}
	return nil
}

func (z *Summarizer) leave(c *hook.Call, _ *host.Return) {
	req, _ := c.Data.(*Request)
	if req == nil {
		return
	}
	if obj, ok := z.s.CallReceiver(c); ok {
		if v, ok := pick(fieldMap(obj), statusFields); ok && (v.Kind == decode.KindInt || v.Kind == decode.KindUint) {
			req.Status = v.Int + int64(v.Uint)
		}
	}
	z.record(*req)
	z.log.Info("http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.String("domain", req.Domain),
		zap.Int64("status", req.Status),
		zap.Duration("elapsed", c.Elapsed()))
}

func (z *Summarizer) record(r Request) {
	z.mu.Lock()
	defer z.mu.Unlock()
	d := z.domains[r.Domain]
	if d == nil {
		d = &DomainStats{Domain: r.Domain, Methods: make(map[string]int), Statuses: make(map[int64]int)}
		z.domains[r.Domain] = d
	}
	d.Requests++
	d.Methods[r.Method]++
	d.Statuses[r.Status]++
}

// Summary returns per-domain statistics sorted by domain.
func (z *Summarizer) Summary() []DomainStats {
	z.mu.Lock()
	defer z.mu.Unlock()
	out := make([]DomainStats, 0, len(z.domains))
	for _, d := range z.domains {
		cp := *d
		cp.Methods = make(map[string]int, len(d.Methods))
		for k, v := range d.Methods {
			cp.Methods[k] = v
		}
		cp.Statuses = make(map[int64]int, len(d.Statuses))
		for k, v := range d.Statuses {
			cp.Statuses[k] = v
		}
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b DomainStats) int { return strings.Compare(a.Domain, b.Domain) })
	return out
}

// Redact replaces every query value of raw with Redacted. Unparsable input
// is reduced to its part before the query.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		before, _, _ := strings.Cut(raw, "?")
		return before
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for k := range q {
		q[k] = []string{Redacted}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Domain returns the registrable domain (eTLD+1) of raw, or its host when
// that cannot be determined.
func Domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	h := strings.ToLower(u.Hostname())
	if d, err := publicsuffix.EffectiveTLDPlusOne(h); err == nil {
		return d
	}
	return h
}

func fieldMap(v decode.Value) map[string]decode.Value {
	m := make(map[string]decode.Value, len(v.Fields))
	for _, f := range v.Fields {
		m[f.Name] = f.Value
	}
	return m
}

func pick(fields map[string]decode.Value, names []string) (decode.Value, bool) {
	for _, n := range names {
		if v, ok := fields[n]; ok {
			return v, true
		}
	}
	return decode.Value{}, false
}

func text(fields map[string]decode.Value, names []string) string {
	if v, ok := pick(fields, names); ok && v.Kind == decode.KindString {
		return v.Text
	}
	return ""
}
