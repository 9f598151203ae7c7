// Package errors provides the error kinds raised by the dataset core.
// Every failure carries the operation that produced it, the row/column or
// dataset it concerns and an optional cause, so callers can branch with
// errors.Is against the Err* sentinels while still printing a readable message.
package errors

import (
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidMethod
	KindInvalidInput
	KindCoercion
	KindValidationFailure
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidMethod:
		return "invalid method"
	case KindInvalidInput:
		return "invalid input"
	case KindCoercion:
		return "coercion"
	case KindValidationFailure:
		return "validation failure"
	case KindExternalService:
		return "external service"
	default:
		return "internal"
	}
}

// ServiceFailure distinguishes the two ways an external collaborator can fail.
type ServiceFailure int

const (
	// FailureNone is used for errors that are not external service errors.
	FailureNone ServiceFailure = iota
	// FailureConnectivity means no response was received.
	FailureConnectivity
	// FailureRemote means the service answered and rejected the request.
	FailureRemote
)

// Error is the standardized error across dataset operations.
type Error struct {
	Kind    Kind
	Op      string // Operation name (e.g., "BatchLabel", "Normalization", "Materialize")
	Target  string // Row, column, stage or dataset the error concerns
	Message string // Human-readable error description
	Cause   error  // Underlying error cause

	// Failure is set for KindExternalService only.
	Failure ServiceFailure
	// StatusCode and Body are populated for remote rejections.
	StatusCode int
	Body       string

	// Issues holds the blocking validation issues for KindValidationFailure.
	Issues []any

	hint string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Target != "" {
		fmt.Fprintf(&b, "%s operation failed on '%s': %s", e.Op, e.Target, e.Message)
	} else {
		fmt.Fprintf(&b, "%s operation failed: %s", e.Op, e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.hint != "" {
		fmt.Fprintf(&b, " (Hint: %s)", e.hint)
	}
	return b.String()
}

// Unwrap returns the underlying cause for error wrapping support
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel of the same kind. Sentinels for
// external service failures also match on the failure sub-kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Failure != FailureNone && t.Failure != e.Failure {
		return false
	}
	// Sentinels leave Op empty; concrete errors must match exactly.
	if t.Op == "" {
		return true
	}
	return t.Op == e.Op && t.Target == e.Target && t.Message == e.Message
}

// WithHint returns a copy of the error carrying a remediation hint.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.hint = hint
	return &cp
}

// Hint returns the remediation hint, if any.
func (e *Error) Hint() string {
	return e.hint
}

// Sentinels for errors.Is. They carry no operation context.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidMethod     = &Error{Kind: KindInvalidMethod}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrCoercion          = &Error{Kind: KindCoercion}
	ErrValidationFailure = &Error{Kind: KindValidationFailure}
	ErrExternalService   = &Error{Kind: KindExternalService}
	ErrConnectivity      = &Error{Kind: KindExternalService, Failure: FailureConnectivity}
	ErrRemoteRejection   = &Error{Kind: KindExternalService, Failure: FailureRemote}
)

// NewNotFoundError creates an error for an absent row, column or dataset.
func NewNotFoundError(op, target string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Op:      op,
		Target:  target,
		Message: "does not exist",
	}
}

// NewInvalidMethodError creates an error for a method name missing from a stage registry.
func NewInvalidMethodError(stage, method string) *Error {
	return &Error{
		Kind:    KindInvalidMethod,
		Op:      stage,
		Target:  method,
		Message: fmt.Sprintf("unknown %s method", stage),
	}
}

// NewInvalidInputError creates an error for malformed operation inputs
func NewInvalidInputError(op, message string) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Op:      op,
		Message: message,
	}
}

// NewCoercionError creates an error for a cell that cannot be read as a number.
func NewCoercionError(op string, row, column int, value string) *Error {
	return &Error{
		Kind:    KindCoercion,
		Op:      op,
		Target:  fmt.Sprintf("row %d, column %d", row, column),
		Message: fmt.Sprintf("value %q is not numeric", value),
	}
}

// NewValidationFailure creates the aggregate error returned when fatal
// validation issues block an analysis operation.
func NewValidationFailure(op string, issues []any) *Error {
	return &Error{
		Kind:    KindValidationFailure,
		Op:      op,
		Message: fmt.Sprintf("%d fatal validation issue(s)", len(issues)),
		Issues:  issues,
	}
}

// NewConnectivityError creates an error for an external call that got no response.
func NewConnectivityError(op, endpoint string, cause error) *Error {
	return &Error{
		Kind:    KindExternalService,
		Failure: FailureConnectivity,
		Op:      op,
		Target:  endpoint,
		Message: "connection failed",
		Cause:   cause,
	}
}

// NewRemoteError creates an error for an external call the service rejected.
func NewRemoteError(op, endpoint string, status int, body string) *Error {
	return &Error{
		Kind:       KindExternalService,
		Failure:    FailureRemote,
		Op:         op,
		Target:     endpoint,
		Message:    fmt.Sprintf("remote computation failed with status %d", status),
		StatusCode: status,
		Body:       body,
	}
}

// NewInternalError creates an error for internal operation failures
func NewInternalError(op string, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: "internal error occurred",
		Cause:   cause,
	}
}
