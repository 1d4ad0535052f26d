package resolve

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
)

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Class *host.ClassDescriptor
	// Candidates holds every match in enumeration order; Class is Candidates[Index].
	Candidates []*host.ClassDescriptor
	Index      int
}

// Resolver matches targets against host metadata. It caches nothing; every
// call walks the metadata afresh.
type Resolver struct {
	md  host.Metadata
	log *zap.Logger
}

// New creates a Resolver.
func New(md host.Metadata, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{md: md, log: log}
}

type walkStats struct {
	assemblies int
	classes    int
	skipped    []string
}

// walk visits every class of the selected assemblies in enumeration order.
// Assemblies whose enumeration fails or panics are skipped.
func (r *Resolver) walk(assembly string, visit func(*host.ClassDescriptor)) (walkStats, error) {
	var st walkStats
	asms := []string{assembly}
	if assembly == "" {
		err := safe.Call(func() error {
			var err error
			asms, err = r.md.Assemblies()
			return err
		})
		if err != nil {
			return st, fmt.Errorf("resolve: listing assemblies: %w", err)
		}
	}
	for _, asm := range asms {
		var classes []*host.ClassDescriptor
		err := safe.Call(func() error {
			var err error
			classes, err = r.md.Classes(asm)
			return err
		})
		if err != nil {
			r.log.Warn("skipping assembly", zap.String("assembly", asm), zap.Error(err))
			st.skipped = append(st.skipped, asm)
			continue
		}
		st.assemblies++
		for _, c := range classes {
			if c == nil {
				continue
			}
			st.classes++
			visit(c)
		}
	}
	return st, nil
}

// Resolve finds the class selected by t. With several matches the one at
// t.PickIndex, clamped into range, is chosen.
func (r *Resolver) Resolve(t Target) (*Resolution, error) {
	t, err := t.Normalize()
	if err != nil {
		return nil, err
	}
	var matches []*host.ClassDescriptor
	st, err := r.walk(t.Assembly, func(c *host.ClassDescriptor) {
		if t.matches(c.Namespace, c.Name) {
			matches = append(matches, c)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, &NotFoundError{
			Target:     t,
			Assemblies: st.assemblies,
			Classes:    st.classes,
			Skipped:    st.skipped,
		}
	}
	idx := min(max(t.PickIndex, 0), len(matches)-1)
	if len(matches) > 1 {
		r.log.Info("multiple classes match",
			zap.Stringer("target", t),
			zap.Int("candidates", len(matches)),
			zap.Int("picked", idx),
			zap.String("class", matches[idx].FullName()))
	}
	return &Resolution{Class: matches[idx], Candidates: matches, Index: idx}, nil
}

// Suggest returns up to limit full class names whose name contains the
// target class name case-insensitively, ranked exact, prefix, then
// substring, with shorter names first within a rank.
func (r *Resolver) Suggest(t Target, limit int) []string {
	t, err := t.Normalize()
	if err != nil || limit <= 0 {
		return nil
	}
	want := strings.ToLower(t.ClassName)
	type hit struct {
		name  string
		rank  int
		order int
	}
	var hits []hit
	seen := make(map[string]bool)
	_, _ = r.walk(t.Assembly, func(c *host.ClassDescriptor) {
		name := strings.ToLower(c.Name)
		if !strings.Contains(name, want) {
			return
		}
		full := c.FullName()
		if seen[full] {
			return
		}
		seen[full] = true
		rank := 2
		switch {
		case name == want:
			rank = 0
		case strings.HasPrefix(name, want):
			rank = 1
		}
		hits = append(hits, hit{name: full, rank: rank, order: len(hits)})
	})
	slices.SortFunc(hits, func(a, b hit) int {
		return cmp.Or(
			cmp.Compare(a.rank, b.rank),
			cmp.Compare(len(a.name), len(b.name)),
			cmp.Compare(a.order, b.order),
		)
	})
	var out []string
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.name)
	}
	return out
}
