// Package failure classifies service errors so the transport can map them to responses.
package failure

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes exposed by the ledger services.
type Kind string

const (
	// KindNotFound indicates a referenced product, property, or record does not exist.
	KindNotFound Kind = "not_found"
	// KindLocked indicates an edit was attempted on a synced application record.
	KindLocked Kind = "locked"
	// KindValidation indicates the input was rejected before any write.
	KindValidation Kind = "validation_failed"
	// KindBatchItem indicates one item of an all-or-nothing batch failed.
	KindBatchItem Kind = "batch_item_failed"
	// KindStorage indicates a lower-level storage failure; the transaction was rolled back.
	KindStorage Kind = "storage_failed"
)

// Error is the classified error returned by every service in this module.
type Error struct {
	kind   Kind
	code   string
	reason string
	err    error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error class.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the dotted operation.reason identifier.
func (e *Error) Code() string {
	return e.code
}

// Reason returns the short reason segment of the code.
func (e *Error) Reason() string {
	return e.reason
}

// New builds a classified error for the operation and reason.
func New(kind Kind, operation, reason string, cause error) error {
	return &Error{
		kind:   kind,
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		err:    cause,
	}
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(operation, reason string, cause error) error {
	return New(KindValidation, operation, reason, cause)
}

// Storage is shorthand for New(KindStorage, ...).
func Storage(operation, reason string, cause error) error {
	return New(KindStorage, operation, reason, cause)
}

// KindOf reports the class of err. Unclassified errors are storage failures.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind
	}
	return KindStorage
}

// Is reports whether err carries the provided kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
