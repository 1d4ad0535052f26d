// Package hook installs, paces, caps and tears down method interceptions,
// isolating every failure from the host and from other hooks.
package hook

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalidEntry is returned for methods without an entry address.
	ErrInvalidEntry = errors.New("hook: method has no entry address")
	// ErrIllegalTransition is returned when a handle is moved to a state
	// its current state does not lead to.
	ErrIllegalTransition = errors.New("hook: illegal state transition")
)

// State is the lifecycle state of a Handle.
type State int

const (
	Planned State = iota
	Installing
	Active
	FailedInstall
	Detached
)

var stateNames = [...]string{
	Planned:       "planned",
	Installing:    "installing",
	Active:        "active",
	FailedInstall: "failed-install",
	Detached:      "detached",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// next lists the legal successors of each state. FailedInstall and Detached
// are terminal; failed methods are never retried.
var next = map[State][]State{
	Planned:    {Installing},
	Installing: {Active, FailedInstall},
	Active:     {Detached},
}

func checkTransition(from, to State) error {
	for _, s := range next[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
