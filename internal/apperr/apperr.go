// Package apperr classifies the errors Chronovault reports to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is malformed input rejected before any mutation.
	KindValidation
	// KindNotFound is a reference to something that does not exist.
	KindNotFound
	// KindConflict is a request that contradicts existing state.
	KindConflict
	// KindPersistence is a storage failure. Always retryable.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence"
	}
	return "unknown"
}

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidAddress  Code = "InvalidAddress"
	CodeInvalidInput    Code = "InvalidInput"
	CodeInvalidShare    Code = "InvalidShare"
	CodeInvalidPolicy   Code = "InvalidPolicy"
	CodeDuplicateHeir   Code = "DuplicateHeir"
	CodeHeirNotFound    Code = "HeirNotFound"
	CodeNoReference     Code = "NoReference"
	CodeReferenceExists Code = "ReferenceExists"
	CodeStoreFailure    Code = "StoreFailure"
	CodePartialWrite    Code = "PartialWrite"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so callers can compare
// against a template such as &Error{Code: CodeHeirNotFound}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Retryable reports whether repeating the request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindPersistence
}

func newf(kind Kind, code Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidAddress(addr string) *Error {
	return newf(KindValidation, CodeInvalidAddress, "invalid account address %q", addr)
}

func InvalidInput(format string, args ...any) *Error {
	return newf(KindValidation, CodeInvalidInput, format, args...)
}

// InvalidShare is a validation error when the share itself is out of range.
func InvalidShare(share int) *Error {
	return newf(KindValidation, CodeInvalidShare, "share %d is outside 1..100", share)
}

// ShareOverflow is a conflict: the share is fine alone but exceeds what is left.
func ShareOverflow(share, allocated int) *Error {
	return newf(KindConflict, CodeInvalidShare, "share %d exceeds the %d%% still unallocated", share, 100-allocated)
}

func InvalidPolicy(err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidPolicy, Message: "invalid policy", Err: err}
}

func DuplicateHeir(addr string) *Error {
	return newf(KindConflict, CodeDuplicateHeir, "heir %s is already registered", addr)
}

func HeirNotFound(addr string) *Error {
	return newf(KindNotFound, CodeHeirNotFound, "heir %s not found", addr)
}

func NoReference() *Error {
	return newf(KindNotFound, CodeNoReference, "no liveness reference enrolled")
}

func ReferenceExists() *Error {
	return newf(KindConflict, CodeReferenceExists, "a liveness reference is already enrolled; remove it first")
}

// Store wraps a persistence failure for op.
func Store(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodeStoreFailure, Message: op, Err: err}
}

// Partial reports that the primary write of an operation succeeded but a
// follow-up write did not. Pending names the half the caller should retry.
func Partial(pending string, err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodePartialWrite, Message: "pending " + pending, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsPartial reports whether err is a partial-write error.
func IsPartial(err error) bool {
	return CodeOf(err) == CodePartialWrite
}
