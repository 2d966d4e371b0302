package errors

import (
	"errors"
	"fmt"
)

// Domain enumerates the possible error domains
type Domain string

const (
	DomainStore   Domain = "store"
	DomainBridge  Domain = "bridge"
	DomainRuntime Domain = "runtime"
	DomainConfig  Domain = "config"
)

// Code enumerates possible error codes for each domain
type Code string

// Store error codes
const (
	CodeInvalidResponse Code = "invalid_response"
	CodeKeyNotFound     Code = "key_not_found"
	CodeWrongThread     Code = "wrong_thread"
	CodeTimeout         Code = "timeout"
	CodeLattice         Code = "lattice_error"
	CodeNoServers       Code = "no_servers"
	CodeUnknown         Code = "unknown"
	CodeClosed          Code = "closed"
)

// Bridge error codes
const (
	CodeMemoryFault Code = "memory_fault"
	CodeNoMemory    Code = "no_memory"
)

// Runtime error codes
const (
	CodeModuleFailed Code = "module_failed"
	CodeGuestExit    Code = "guest_exit"
	CodeDeadline     Code = "deadline_exceeded"
)

// Config error codes
const (
	CodeInvalidConfig Code = "invalid_config"
)

// DomainError represents a domain-specific error.
type DomainError struct {
	// The error domain (store, bridge, ...)
	ErrDomain Domain

	// Error code unique within the domain
	ErrCode Code

	// Human-readable error message
	Message string

	// Optional key the failing operation was working on
	Key     string
	Details map[string]interface{}

	// Original error that caused this one, if any
	Cause error
}

// Error returns the error message.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.ErrDomain, e.ErrCode, e.Message)

	if e.Key != "" {
		msg = fmt.Sprintf("%s (key: %q)", msg, e.Key)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the cause of this error
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same domain and code, so
// errors.Is works against the templates declared below.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if !errors.As(target, &de) {
		return false
	}
	return e.ErrDomain == de.ErrDomain && e.ErrCode == de.ErrCode
}

// New creates a new DomainError.
func New(domain Domain, code Code, message string) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
	}
}

// WithKey adds key context to the error
func (e *DomainError) WithKey(key []byte) *DomainError {
	e.Key = string(key)
	return e
}

// WithCause adds the causing error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetails adds additional context details
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// Wrap wraps an error with domain context.
func Wrap(domain Domain, code Code, message string, err error) *DomainError {
	return &DomainError{
		ErrDomain: domain,
		ErrCode:   code,
		Message:   message,
		Cause:     err,
	}
}

// Is checks if an error is a DomainError with the specified domain and code.
func Is(err error, domain Domain, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.ErrDomain == domain && de.ErrCode == code
	}
	return false
}

// CodeOf returns the code of the outermost DomainError in err's chain.
func CodeOf(err error) (Domain, Code, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.ErrDomain, de.ErrCode, true
	}
	return "", "", false
}

// Templates for errors.Is comparisons. Never mutate these; build new
// errors with New or Wrap.
var (
	ErrInvalidResponse = New(DomainStore, CodeInvalidResponse, "invalid response")
	ErrKeyNotFound     = New(DomainStore, CodeKeyNotFound, "key not found")
	ErrWrongThread     = New(DomainStore, CodeWrongThread, "wrong thread")
	ErrTimeout         = New(DomainStore, CodeTimeout, "timed out")
	ErrLattice         = New(DomainStore, CodeLattice, "lattice error")
	ErrNoServers       = New(DomainStore, CodeNoServers, "no servers")
	ErrUnknown         = New(DomainStore, CodeUnknown, "unknown store error")
	ErrClosed          = New(DomainStore, CodeClosed, "session closed")
)

var (
	ErrMemoryFault = New(DomainBridge, CodeMemoryFault, "guest memory access out of bounds")
	ErrNoMemory    = New(DomainBridge, CodeNoMemory, "guest has no linear memory")
)
