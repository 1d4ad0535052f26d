package resolve

import (
	"regexp"
	"strings"

	"github.com/daimatz/goprobe/pkg/host"
)

// MethodFilter narrows the methods of a class. Zero values match everything.
type MethodFilter struct {
	// Contains keeps methods whose name contains this substring.
	Contains string
	// Pattern keeps methods whose name matches.
	Pattern *regexp.Regexp
	// Exclude drops methods by name. Entries may be qualified or carry a
	// parameter list; they are normalized with NormalizeMethodName.
	Exclude []string
	// SkipStatic drops static methods.
	SkipStatic bool
}

// NormalizeMethodName reduces a possibly qualified method reference such as
// "::Game.Player.Update(float)" to the bare name "Update".
func NormalizeMethodName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, special := range []string{".cctor", ".ctor"} {
		if strings.HasSuffix(s, special) {
			return special
		}
	}
	if i := strings.LastIndexAny(s, ".:/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// BuildMethodList returns the hookable methods of cls that pass f, in
// declaration order. Methods without an entry address are always dropped.
// cls is not modified: a method not linked to its class is returned as a
// linked copy.
func BuildMethodList(cls *host.ClassDescriptor, f MethodFilter) []*host.MethodDescriptor {
	if cls == nil {
		return nil
	}
	exclude := make(map[string]bool, len(f.Exclude))
	for _, e := range f.Exclude {
		if n := NormalizeMethodName(e); n != "" {
			exclude[n] = true
		}
	}
	var out []*host.MethodDescriptor
	for i := range cls.Methods {
		m := &cls.Methods[i]
		switch {
		case !m.Hookable():
		case f.SkipStatic && m.IsStatic:
		case f.Contains != "" && !strings.Contains(m.Name, f.Contains):
		case f.Pattern != nil && !f.Pattern.MatchString(m.Name):
		case exclude[m.Name]:
		default:
			if m.Class == nil {
				linked := *m
				linked.Class = cls
				m = &linked
			}
			out = append(out, m)
		}
	}
	return out
}
