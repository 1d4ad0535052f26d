// Package resolve selects classes and hookable methods from the metadata a
// host exposes.
package resolve

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is wrapped by every *NotFoundError.
	ErrNotFound = errors.New("resolve: no matching class")
	// ErrEmptyClassName is returned when a target names no class.
	ErrEmptyClassName = errors.New("resolve: class name is empty")
)

// Target selects a class. FullName, when set, takes precedence over
// Namespace and ClassName.
type Target struct {
	Assembly          string
	Namespace         string
	ClassName         string
	FullName          string
	AllowPartialMatch bool
	PickIndex         int
}

// Normalize trims the target and splits FullName at its last separator.
func (t Target) Normalize() (Target, error) {
	t.Assembly = strings.TrimSpace(t.Assembly)
	t.Namespace = strings.TrimSpace(t.Namespace)
	t.ClassName = strings.TrimSpace(t.ClassName)
	t.FullName = strings.TrimSpace(t.FullName)
	if t.FullName != "" {
		if i := strings.LastIndexByte(t.FullName, '.'); i >= 0 {
			t.Namespace, t.ClassName = t.FullName[:i], t.FullName[i+1:]
		} else {
			t.Namespace, t.ClassName = "", t.FullName
		}
	}
	if t.ClassName == "" {
		return t, ErrEmptyClassName
	}
	return t, nil
}

func (t Target) String() string {
	var b strings.Builder
	if t.Namespace != "" {
		b.WriteString(t.Namespace)
		b.WriteByte('.')
	}
	b.WriteString(t.ClassName)
	if t.Assembly != "" {
		fmt.Fprintf(&b, " in %s", t.Assembly)
	}
	if t.AllowPartialMatch {
		b.WriteString(" (partial)")
	}
	return b.String()
}

func (t Target) matches(namespace, name string) bool {
	if t.AllowPartialMatch {
		return strings.Contains(name, t.ClassName) &&
			(t.Namespace == "" || strings.Contains(namespace, t.Namespace))
	}
	return name == t.ClassName && (t.Namespace == "" || namespace == t.Namespace)
}

// NotFoundError reports an unsuccessful resolution and what was searched.
type NotFoundError struct {
	Target     Target
	Assemblies int
	Classes    int
	// Skipped lists assemblies whose metadata could not be walked.
	Skipped []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("resolve: no class matches %s (searched %d assemblies, %d classes",
		e.Target, e.Assemblies, e.Classes)
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(", skipped %s", strings.Join(e.Skipped, ", "))
	}
	return msg + ")"
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
