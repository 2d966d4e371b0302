// Package lattice defines the value envelopes stored in the key-value store.
//
// An envelope is a value together with the merge semantics the store applies
// to it. The set of envelope kinds is closed: every switch over Type or
// Envelope in this repository handles LWW and Set explicitly and treats
// anything else as an error.
package lattice

import (
	"errors"
	"fmt"
	"slices"
)

// Type is the store-level discriminator of an envelope.
type Type int

const (
	// TypeNone is the zero value and never appears on a valid envelope.
	TypeNone Type = iota
	// TypeLWW is a scalar resolved by last-write-wins on its timestamp.
	TypeLWW
	// TypeSet is a set of string members.
	TypeSet
)

var (
	ErrUnknownType  = errors.New("unknown lattice type")
	ErrTypeMismatch = errors.New("lattice type mismatch")
	ErrMalformed    = errors.New("malformed lattice payload")
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeLWW:
		return "lww"
	case TypeSet:
		return "set"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Valid reports whether t names a concrete envelope kind.
func (t Type) Valid() bool {
	return t == TypeLWW || t == TypeSet
}

// Envelope is implemented by LWW and Set only.
type Envelope interface {
	Type() Type
	sealed()
}

// LWW is a timestamped scalar value.
type LWW struct {
	Timestamp uint64
	Value     []byte
}

// Type implements Envelope.
func (LWW) Type() Type { return TypeLWW }
func (LWW) sealed()    {}

// Set is an unordered collection of members. NewSet normalizes member order.
type Set struct {
	Members []string
}

// NewSet returns a Set with members sorted and deduplicated.
func NewSet(members []string) Set {
	out := slices.Clone(members)
	slices.Sort(out)
	return Set{Members: slices.Compact(out)}
}

// Type implements Envelope.
func (Set) Type() Type { return TypeSet }
func (Set) sealed()    {}

// Contains reports whether m is a member of the set.
func (s Set) Contains(m string) bool {
	_, found := slices.BinarySearch(s.Members, m)
	return found
}

// Merge combines an existing envelope with an incoming one.
//
// LWW keeps the envelope with the greater timestamp; on a tie the incoming
// write wins. Set is replaced wholesale by the incoming set.
func Merge(existing, incoming Envelope) (Envelope, error) {
	if existing.Type() != incoming.Type() {
		return nil, fmt.Errorf("%w: stored %s, incoming %s", ErrTypeMismatch, existing.Type(), incoming.Type())
	}

	switch in := incoming.(type) {
	case LWW:
		cur := existing.(LWW)
		if in.Timestamp >= cur.Timestamp {
			return in, nil
		}
		return cur, nil
	case Set:
		return NewSet(in.Members), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, incoming.Type())
	}
}
