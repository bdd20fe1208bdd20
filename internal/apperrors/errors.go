// Package apperrors implements the error taxonomy used throughout the
// telemetry data plane: validation, authorization, rate-limit, transient
// and permanent dependency failures, and invariant violations.
package apperrors

import "fmt"

// ErrorType classifies an AppError for HTTP status mapping and retry policy.
type ErrorType string

const (
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeAuthorization       ErrorType = "authorization"
	ErrorTypeRateLimit           ErrorType = "rate_limit"
	ErrorTypeTransientDependency ErrorType = "transient_dependency"
	ErrorTypePermanentDependency ErrorType = "permanent_dependency"
	ErrorTypeInvariantViolation  ErrorType = "invariant_violation"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:          400,
	ErrorTypeAuthorization:       401,
	ErrorTypeRateLimit:           429,
	ErrorTypeTransientDependency: 503,
	ErrorTypePermanentDependency: 502,
	ErrorTypeInvariantViolation:  500,
}

// AppError is the canonical error value for this module's domain code.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

func Wrap(err error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t], Cause: err}
}

func Wrapf(err error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(err, t, fmt.Sprintf(format, args...))
}

// WithDetails mutates e in place and returns it, matching the teacher's
// chainable-but-identity-preserving builder contract.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	return GetType(err) == t
}

// GetType returns err's ErrorType, defaulting to ErrorTypeInvariantViolation
// for any error that isn't an *AppError (an unclassified error reaching the
// top of a message loop is itself an invariant the code failed to uphold).
func GetType(err error) ErrorType {
	var ae *AppError
	if as(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInvariantViolation
}

func GetStatusCode(err error) int {
	var ae *AppError
	if as(err, &ae) {
		return ae.StatusCode
	}
	return 500
}

func as(err error, target **AppError) bool {
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var safeMessages = map[ErrorType]string{
	ErrorTypeAuthorization:       "authentication failed",
	ErrorTypeRateLimit:           "rate limit exceeded",
	ErrorTypeTransientDependency: "an internal error occurred",
	ErrorTypePermanentDependency: "an internal error occurred",
	ErrorTypeInvariantViolation:  "an unexpected error occurred",
}

// SafeErrorMessage returns a message safe to surface to a device or
// tenant-facing caller. Validation messages pass through verbatim since
// they describe the caller's own malformed input; everything else is
// genericized to avoid leaking internal detail.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !as(err, &ae) {
		return "an unexpected error occurred"
	}
	if ae.Type == ErrorTypeValidation {
		return ae.Message
	}
	if msg, ok := safeMessages[ae.Type]; ok {
		return msg
	}
	return "an unexpected error occurred"
}

// LogFields returns a structured field map suitable for a logger, never
// leaking more than what SafeErrorMessage would allow to the caller but
// preserving full detail for operators.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var ae *AppError
	if as(err, &ae) {
		fields["error_type"] = string(ae.Type)
		fields["status_code"] = ae.StatusCode
		if ae.Details != "" {
			fields["error_details"] = ae.Details
		}
		if ae.Cause != nil {
			fields["underlying_error"] = ae.Cause.Error()
		}
	}
	return fields
}

// Chain joins non-nil errors into one, for surfacing a causal sequence
// (e.g. batch flush failure -> quarantine write failure) as a single error.
func Chain(errs ...error) error {
	var present []error
	for _, e := range errs {
		if e != nil {
			present = append(present, e)
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		return present[0]
	}
	msg := present[0].Error()
	for _, e := range present[1:] {
		msg += " -> " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}

// Predefined constructors mirroring the teacher's convenience helpers.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewAuthorizationError(message string) *AppError {
	return New(ErrorTypeAuthorization, message)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message)
}

func NewTransientDependencyError(op string, cause error) *AppError {
	return Wrap(cause, ErrorTypeTransientDependency, "dependency operation failed: "+op)
}

func NewPermanentDependencyError(op string, cause error) *AppError {
	return Wrap(cause, ErrorTypePermanentDependency, "dependency rejected operation: "+op)
}

func NewInvariantViolation(message string) *AppError {
	return New(ErrorTypeInvariantViolation, message)
}
