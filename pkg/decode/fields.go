package decode

import (
	"slices"
	"strings"

	"github.com/daimatz/goprobe/internal/safe"
	"github.com/daimatz/goprobe/pkg/host"
)

type previewField struct {
	name string
	desc *host.FieldDescriptor
}

// PreviewFields returns the fields of cls an object preview would show, in
// declaration order, after applying the field policy.
func (d *Decoder) PreviewFields(cls *host.ClassDescriptor) []string {
	var names []string
	for _, f := range d.eligible(cls) {
		names = append(names, f.name)
	}
	return names
}

func (d *Decoder) eligible(cls *host.ClassDescriptor) []previewField {
	pol := d.opts.Fields
	full := cls.FullName()
	allow, hasAllow := pol.Allow[full]
	deny := pol.Deny[full]

	var out []previewField
	for i := range cls.Fields {
		f := &cls.Fields[i]
		if f.IsLiteral || (f.IsStatic && !pol.IncludeStatic) {
			continue
		}
		name, ok := displayName(f.Name, pol.HideCompilerGenerated)
		if !ok {
			continue
		}
		listed := func(list []string) bool {
			return slices.Contains(list, f.Name) || slices.Contains(list, name)
		}
		if hasAllow && !listed(allow) {
			continue
		}
		if listed(deny) {
			continue
		}
		out = append(out, previewField{name: name, desc: f})
	}
	return out
}

// displayName maps auto-property backing fields to their property names and
// reports whether a compiler-generated name should be shown at all.
func displayName(name string, hide bool) (string, bool) {
	if !hide || !strings.HasPrefix(name, "<") {
		return name, true
	}
	if inner, ok := strings.CutSuffix(name, ">k__BackingField"); ok && len(inner) > 1 {
		return inner[1:], true
	}
	return name, false
}

// fields builds an object preview. base is the address field offsets are
// relative to; it differs from obj only for unboxed value types.
func (d *Decoder) fields(obj, base host.Pointer, cls *host.ClassDescriptor, lim Limits, depth int) Value {
	v := Value{Kind: KindObject, Type: cls.FullName(), Addr: obj}
	eligible := d.eligible(cls)
	if depth >= lim.MaxDepth {
		v.Omitted = len(eligible)
		return v
	}
	for _, f := range eligible {
		if len(v.Fields) >= lim.MaxFields {
			v.Omitted++
			continue
		}
		fv, ok := d.field(base, cls, f.desc, lim, depth)
		if !ok {
			continue
		}
		v.Fields = append(v.Fields, Field{Name: f.name, Static: f.desc.IsStatic, Value: fv})
	}
	return v
}

func (d *Decoder) field(base host.Pointer, cls *host.ClassDescriptor, f *host.FieldDescriptor, lim Limits, depth int) (Value, bool) {
	var v Value
	err := safe.Call(func() error {
		addr := base.Add(f.Offset)
		if f.IsStatic {
			var err error
			if addr, err = d.src.StaticFieldAddress(cls, f); err != nil {
				return err
			}
		}
		var err error
		v, err = d.slot(addr, d.TypeOf(f.TypeName), lim, depth+1)
		return err
	})
	return v, err == nil
}
