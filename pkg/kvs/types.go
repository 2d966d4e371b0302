// Package kvs implements the asynchronous key-value store protocol the
// host talks to: tagged requests, batched responses keyed by correlation
// id, a storage engine that applies requests, and submit/poll clients for
// in-process, persistent and remote stores.
package kvs

import (
	"fmt"

	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// Kind is the operation carried by a request.
type Kind int

const (
	KindPutScalar Kind = iota + 1
	KindGetScalar
	KindPutSet
	KindGetSet
)

// IsPut reports whether the request writes a value.
func (k Kind) IsPut() bool {
	return k == KindPutScalar || k == KindPutSet
}

// Lattice returns the envelope type the operation works on.
func (k Kind) Lattice() lattice.Type {
	switch k {
	case KindPutScalar, KindGetScalar:
		return lattice.TypeLWW
	case KindPutSet, KindGetSet:
		return lattice.TypeSet
	default:
		return lattice.TypeNone
	}
}

func (k Kind) String() string {
	switch k {
	case KindPutScalar:
		return "put"
	case KindGetScalar:
		return "get"
	case KindPutSet:
		return "put_set"
	case KindGetSet:
		return "get_set"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PutKind returns the write kind for a lattice type.
func PutKind(t lattice.Type) Kind {
	if t == lattice.TypeSet {
		return KindPutSet
	}
	return KindPutScalar
}

// ErrorCode is the store's wire-level error code.
type ErrorCode int

const (
	NoError ErrorCode = iota
	ErrKeyDNE
	ErrWrongThread
	ErrTimeout
	ErrLattice
	ErrNoServers
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case ErrKeyDNE:
		return "KEY_DNE"
	case ErrWrongThread:
		return "WRONG_THREAD"
	case ErrTimeout:
		return "TIMEOUT"
	case ErrLattice:
		return "LATTICE"
	case ErrNoServers:
		return "NO_SERVERS"
	default:
		return fmt.Sprintf("ERROR_%d", int(c))
	}
}

// Request is a tagged request submitted to the store.
type Request struct {
	ID      string
	Kind    Kind
	Key     []byte
	Lattice lattice.Type
	Payload []byte
}

// Response answers exactly one request. Lattice and Payload are set on
// successful reads only.
type Response struct {
	ID      string
	Kind    Kind
	Key     []byte
	Lattice lattice.Type
	Payload []byte
	Error   ErrorCode
}

// failed builds a response carrying only an error for req.
func failed(req Request, code ErrorCode) Response {
	return Response{
		ID:    req.ID,
		Kind:  req.Kind,
		Key:   req.Key,
		Error: code,
	}
}
