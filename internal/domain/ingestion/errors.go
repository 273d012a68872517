package ingestion

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error Taxonomy
// ---------------------------------------------------------------------------
//
// Record-scoped errors (MalformedMessageError, ValidationError) never abort a
// batch. Cycle-scoped transient errors abort only the current cycle and leave
// unacknowledged source state intact for the next run.

var (
	// Sentinel source errors
	ErrSourceUnavailable   = errors.New("ingestion: source temporarily unavailable")
	ErrSourceAuthFailed    = errors.New("ingestion: source authentication failed")
	ErrSourceMalformed     = errors.New("ingestion: source rejected request as malformed")
	ErrCursorNotFound      = errors.New("ingestion: no cursor stored for source")
	ErrRecordNotFound      = errors.New("ingestion: delivery record not found")
	ErrUnknownSource       = errors.New("ingestion: unknown source")
	ErrUnsupportedWireKind = errors.New("ingestion: unsupported wire format")
)

// TransientSourceError indicates a source-side failure (connection drop,
// timeout) that warrants retrying the whole cycle later.
type TransientSourceError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("ingestion: transient source error on %s during %s: %v", e.SourceID, e.Op, e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// NewTransientSourceError wraps err as a cycle-scoped transient source failure
func NewTransientSourceError(sourceID, op string, err error) *TransientSourceError {
	return &TransientSourceError{SourceID: sourceID, Op: op, Err: err}
}

// TransientDeliveryError indicates a retryable delivery failure (timeout,
// 5xx). The delivery record stays FAILED and is retried on a later cycle.
type TransientDeliveryError struct {
	Reason string
	Err    error
}

func (e *TransientDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingestion: transient delivery error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("ingestion: transient delivery error: %s", e.Reason)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError indicates a business-rule rejection by the ERP.
// The record is dead-lettered.
type PermanentDeliveryError struct {
	Reason string
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("ingestion: permanent delivery error: %s", e.Reason)
}

// MalformedMessageError indicates a single record inside a batch could not be
// parsed. The record is dead-lettered; the rest of the batch proceeds.
type MalformedMessageError struct {
	// Reference identifies the failing record within its payload
	// (order id when known, else a positional reference)
	Reference string
	Reason    string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("ingestion: malformed message %s: %s", e.Reference, e.Reason)
}

// ValidationError indicates a structured record failed normalization.
// Non-retryable: the source data itself is defective.
type ValidationError struct {
	// Field is the first failing field
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingestion: validation failed on field %q: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// FatalConfigurationError aborts the cycle for a source entirely and is
// surfaced to operators, never silently retried.
type FatalConfigurationError struct {
	SourceID string
	Reason   string
}

func (e *FatalConfigurationError) Error() string {
	return fmt.Sprintf("ingestion: fatal configuration error for source %s: %s", e.SourceID, e.Reason)
}

// ---------------------------------------------------------------------------
// Classification helpers
// ---------------------------------------------------------------------------

// IsTransientSource reports whether err is a cycle-scoped transient source error
func IsTransientSource(err error) bool {
	var t *TransientSourceError
	return errors.As(err, &t)
}

// IsTransientDelivery reports whether err is a retryable delivery error
func IsTransientDelivery(err error) bool {
	var t *TransientDeliveryError
	return errors.As(err, &t)
}

// IsMalformed reports whether err is a record-scoped parse failure
func IsMalformed(err error) bool {
	var m *MalformedMessageError
	return errors.As(err, &m)
}

// IsValidation reports whether err is a record-scoped validation failure
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsFatalConfiguration reports whether err aborts the source cycle entirely
func IsFatalConfiguration(err error) bool {
	var f *FatalConfigurationError
	return errors.As(err, &f)
}
