// Package apperr defines the error taxonomy shared by the teamgate core.
//
// Validation and authorization failures are expected, caller-recoverable
// conditions and carry enough structure to react programmatically.
// Infrastructure failures keep their internal detail for logs only; the
// message surfaced to callers is deliberately generic.
package apperr

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a referenced entity does not exist, or does not
// exist in the expected team scope.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NotFound builds a NotFoundError for a resource and lookup key.
func NotFound(resource string, key interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: fmt.Sprintf("%v", key)}
}

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// AuthorizationError indicates the caller lacks ownership or the relevant
// ability. It is always distinct from NotFoundError so existence is never
// leaked through a generic not-found response.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}

// Denied builds an AuthorizationError with the given reason.
func Denied(reason string) *AuthorizationError {
	return &AuthorizationError{Reason: reason}
}

// IsDenied checks if an error is an AuthorizationError.
func IsDenied(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// ValidationError is a business-rule violation carrying a field-keyed map of
// human-readable reasons.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	for field, msgs := range e.Fields {
		if len(msgs) > 0 {
			return field + ": " + msgs[0]
		}
	}
	return "validation failed"
}

// Validation builds a single-field ValidationError.
func Validation(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

// Add appends another reason to the error and returns it.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
	return e
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// AsValidation extracts a ValidationError from an error chain.
func AsValidation(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

// ConflictError indicates an invariant would be violated and no safe
// auto-repair exists (e.g. the configured default team is missing).
type ConflictError struct {
	Invariant string
}

func (e *ConflictError) Error() string {
	return e.Invariant
}

// Conflict builds a ConflictError describing the violated invariant.
func Conflict(invariant string) *ConflictError {
	return &ConflictError{Invariant: invariant}
}

// IsConflict checks if an error is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// GenericFailureMessage is the only text an InfrastructureError exposes to
// end users.
const GenericFailureMessage = "something went wrong, please try again later"

// InfrastructureError wraps a persistence or transaction failure. The
// wrapped error is for server-side logs; Error() intentionally does not
// include it.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return GenericFailureMessage
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Infrastructure wraps err as an InfrastructureError for operation op.
func Infrastructure(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure checks if an error is an InfrastructureError.
func IsInfrastructure(err error) bool {
	var e *InfrastructureError
	return errors.As(err, &e)
}
