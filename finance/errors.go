/*
errors.go - Error kinds of the finance core

ERROR CATEGORIES:
  1. Validation - malformed input, rejected before any store write (400)
  2. NotFound   - id does not resolve to a document (404)
  3. Conflict   - duplicate name, deletion blocked by references (409)
  4. Upstream   - the entity store failed (500, never retried here)

USAGE:
  Callers branch with errors.Is on the sentinels, or errors.As on the
  structured types for details:

    if errors.Is(err, finance.ErrNotFound) { ... }

    var verr *finance.ValidationError
    if errors.As(err, &verr) { for _, f := range verr.Fields { ... } }
*/
package finance

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrUpstream   = errors.New("upstream store failure")

	// ErrDuplicateName is returned by stores when a unique name constraint
	// is violated. The Ledger converts it to a ConflictError.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrDuplicateKeyword is the keyword-mapping analogue of ErrDuplicateName.
	ErrDuplicateKeyword = errors.New("duplicate keyword")
)

// Kind names an entity collection in error messages.
type Kind string

const (
	KindWallet      Kind = "wallet"
	KindCategory    Kind = "category"
	KindTransaction Kind = "transaction"
	KindKeyword     Kind = "keyword mapping"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of an input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// orNil returns e only if at least one field failed.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ConflictError struct {
	Kind   Kind
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Kind, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// UpstreamError wraps a store failure with the operation that hit it.
// errors.Is matches both ErrUpstream and the wrapped cause.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// upstream wraps err unless it already carries one of the domain kinds.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrUpstream) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsUpstream(err error) bool   { return errors.Is(err, ErrUpstream) }
