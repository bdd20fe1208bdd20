package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorFormat(t *testing.T) {
	e := New(ErrorTypeValidation, "site_id mismatch")
	assert.Equal(t, "validation: site_id mismatch", e.Error())

	e.WithDetails("expected site-42, got site-7")
	assert.Equal(t, "validation: site_id mismatch (expected site-42, got site-7)", e.Error())
}

func TestAppError_WithDetailsMutatesInPlace(t *testing.T) {
	e := New(ErrorTypeRateLimit, "admission denied")
	same := e.WithDetails("tenant bucket empty")
	assert.Same(t, e, same)
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := Wrap(cause, ErrorTypeTransientDependency, "bus publish failed")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestGetType_DefaultsToInvariantViolation(t *testing.T) {
	assert.Equal(t, ErrorTypeInvariantViolation, GetType(errors.New("boom")))
	assert.Equal(t, ErrorTypeValidation, GetType(New(ErrorTypeValidation, "x")))
}

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, 429, GetStatusCode(New(ErrorTypeRateLimit, "x")))
	assert.Equal(t, 400, GetStatusCode(New(ErrorTypeValidation, "x")))
	assert.Equal(t, 500, GetStatusCode(errors.New("not an apperror")))
}

func TestSafeErrorMessage(t *testing.T) {
	assert.Equal(t, "site_id mismatch", SafeErrorMessage(New(ErrorTypeValidation, "site_id mismatch")))
	assert.Equal(t, "rate limit exceeded", SafeErrorMessage(New(ErrorTypeRateLimit, "bucket empty")))
	assert.Equal(t, "an unexpected error occurred", SafeErrorMessage(errors.New("raw")))
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain(nil, nil))
	single := errors.New("only one")
	assert.Equal(t, single, Chain(nil, single))

	chained := Chain(errors.New("flush failed"), errors.New("quarantine write failed"))
	require.Error(t, chained)
	assert.Equal(t, "flush failed -> quarantine write failed", chained.Error())
}

func TestLogFields(t *testing.T) {
	cause := errors.New("timeout")
	e := Wrap(cause, ErrorTypeTransientDependency, "db query failed").WithDetails("statement timeout")
	fields := LogFields(e)
	assert.Equal(t, "transient_dependency", fields["error_type"])
	assert.Equal(t, 503, fields["status_code"])
	assert.Equal(t, "statement timeout", fields["error_details"])
	assert.Equal(t, "timeout", fields["underlying_error"])
}
