// Package safe provides the panic barriers used wherever goprobe calls into
// code it does not control: host primitives and consumer callbacks.
package safe

import (
	"errors"
	"fmt"
)

// PanicError is returned when a guarded function panicked.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("recovered panic: %v", e.Value)
}

// Call runs fn and converts a panic into a *PanicError.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

// Do is Call for functions without an error result.
func Do(fn func()) error {
	return Call(func() error {
		fn()
		return nil
	})
}

// IsPanic reports whether err came from a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
