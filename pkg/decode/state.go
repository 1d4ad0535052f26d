package decode

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// State holds the memoized metadata answers shared by all decoders of one
// session: type classification, collection shapes and enum literals.
// Decoded values themselves are never cached. Concurrent writers race with
// last-writer-wins semantics; a lost race only costs a recomputation.
type State struct {
	types  sync.Map // type name -> TypeInfo
	shapes sync.Map // namespace.name -> Shape
	enums  sync.Map // assembly/full name -> *enumInfo
	group  singleflight.Group
}

// NewState creates an empty State.
func NewState() *State {
	return &State{}
}

// Reset drops every cached entry.
func (s *State) Reset() {
	s.types.Clear()
	s.shapes.Clear()
	s.enums.Clear()
}

// Shape is the cached answer to "which known collection is this class".
type Shape struct {
	List       bool
	Dictionary bool
	Multimap   bool
	// Inner is the declared type of a multimap's backing dictionary.
	Inner string
}

// Known reports whether any collection shape matched.
func (s Shape) Known() bool {
	return s.List || s.Dictionary || s.Multimap
}

// Kind returns the most specific matching collection kind.
func (s Shape) Kind() CollectionKind {
	switch {
	case s.Multimap:
		return CollMultimap
	case s.Dictionary:
		return CollDictionary
	}
	return CollList
}
