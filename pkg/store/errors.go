package store

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
)

// ErrorKind classifies the outcome of an adapter call.
type ErrorKind int

const (
	Success ErrorKind = iota
	InvalidResponse
	KeyNotFound
	WrongThread
	Timeout
	LatticeError
	NoServers
	Unknown
)

func (k ErrorKind) String() string {
	switch k {
	case Success:
		return "Success"
	case InvalidResponse:
		return "InvalidResponse"
	case KeyNotFound:
		return "KeyNotFound"
	case WrongThread:
		return "WrongThread"
	case Timeout:
		return "Timeout"
	case LatticeError:
		return "LatticeError"
	case NoServers:
		return "NoServers"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) code() errors.Code {
	switch k {
	case InvalidResponse:
		return errors.CodeInvalidResponse
	case KeyNotFound:
		return errors.CodeKeyNotFound
	case WrongThread:
		return errors.CodeWrongThread
	case Timeout:
		return errors.CodeTimeout
	case LatticeError:
		return errors.CodeLattice
	case NoServers:
		return errors.CodeNoServers
	default:
		return errors.CodeUnknown
	}
}

// kindFromWire maps a store error code onto the taxonomy. Codes outside the
// known range are Unknown.
func kindFromWire(c kvs.ErrorCode) ErrorKind {
	switch c {
	case kvs.NoError:
		return Success
	case kvs.ErrKeyDNE:
		return KeyNotFound
	case kvs.ErrWrongThread:
		return WrongThread
	case kvs.ErrTimeout:
		return Timeout
	case kvs.ErrLattice:
		return LatticeError
	case kvs.ErrNoServers:
		return NoServers
	default:
		return Unknown
	}
}

// KindOf recovers the ErrorKind of an error returned by the adapter. A nil
// error is Success; anything not produced by the adapter is Unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return Success
	}

	domain, code, ok := errors.CodeOf(err)
	if !ok || domain != errors.DomainStore {
		return Unknown
	}

	switch code {
	case errors.CodeInvalidResponse:
		return InvalidResponse
	case errors.CodeKeyNotFound:
		return KeyNotFound
	case errors.CodeWrongThread:
		return WrongThread
	case errors.CodeTimeout:
		return Timeout
	case errors.CodeLattice:
		return LatticeError
	case errors.CodeNoServers:
		return NoServers
	default:
		return Unknown
	}
}

func newError(kind ErrorKind, key []byte, message string) *errors.DomainError {
	return errors.New(errors.DomainStore, kind.code(), message).WithKey(key)
}

func wireError(key []byte, code kvs.ErrorCode) error {
	return newError(kindFromWire(code), key, fmt.Sprintf("store returned %s", code))
}

// submitError classifies a failure to hand a request to the collaborator.
func submitError(key []byte, err error) error {
	var de *errors.DomainError
	switch {
	case stderrors.As(err, &de) && de.ErrDomain == errors.DomainStore:
		return err
	case stderrors.Is(err, kvs.ErrClosed), stderrors.Is(err, kvs.ErrNetworkClosed):
		return errors.Wrap(errors.DomainStore, errors.CodeClosed, "store session closed", err).WithKey(key)
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		return newError(Timeout, key, "request not submitted before the deadline").WithCause(err)
	default:
		return newError(Unknown, key, "failed to submit request").WithCause(err)
	}
}
