package core

import (
	"errors"
	"fmt"
)

// ErrorClass partitions failures by how the orchestrator reacts to them.
type ErrorClass string

const (
	// ErrValidation is bad caller input. Fails immediately, never retried.
	ErrValidation ErrorClass = "validation"
	// ErrTransient is a retryable provider failure (throttle, 5xx, network).
	ErrTransient ErrorClass = "transient"
	// ErrPermanent is terminal for the job after the retry budget.
	ErrPermanent ErrorClass = "permanent"
	// ErrSchema is malformed fusion output that survived repair retries.
	ErrSchema ErrorClass = "schema"
	// ErrExhausted means a retry or time ceiling was exceeded.
	ErrExhausted ErrorClass = "exhausted"
)

// PipelineError is the typed error every provider and pipeline stage
// returns. Code is a stable machine-readable reason; Message is for the
// caller-facing failure surface.
type PipelineError struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Class, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Class, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewError(class ErrorClass, code, message string) *PipelineError {
	return &PipelineError{Class: class, Code: code, Message: message}
}

func WrapError(class ErrorClass, code string, err error) *PipelineError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{Class: class, Code: code, Message: msg, Err: err}
}

// ClassOf extracts the error class, defaulting unknown errors to
// transient so a flaky provider gets its retry budget before the job is
// declared permanently failed.
func ClassOf(err error) ErrorClass {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrTransient
}

// CodeOf extracts the stable reason code, if any.
func CodeOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return "internal"
}

// Stable reason codes surfaced on failed requests.
const (
	CodeInvalidFormat     = "invalid_format"
	CodeTooLarge          = "too_large"
	CodeTooLong           = "too_long"
	CodeExtractionFailure = "extraction_failure"
	CodeSpeechFailed      = "speech_analysis_failed"
	CodeSchemaError       = "fusion_schema_error"
	CodeCancelled         = "cancelled"
)
