package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes for the voice pipeline failure taxonomy. Handlers map these
// onto HTTP statuses; services return them so callers can branch without
// string matching.
const (
	CodeInvalidAudioFormat   = "invalid_audio_format"
	CodeAudioTooLarge        = "audio_too_large"
	CodeAudioTooShort        = "audio_too_short"
	CodeAudioTooLong         = "audio_too_long"
	CodeExtractionFailed     = "extraction_failed"
	CodeUserNotEnrolled      = "user_not_enrolled"
	CodeModelVersionMismatch = "model_version_mismatch"
	CodeRateLimited          = "rate_limited"
	CodeTimeout              = "timeout"
	CodeStorageUnavailable   = "storage_unavailable"
	CodeFeatureDisabled      = "feature_disabled"
	CodeBadRequest           = "bad_request"
	CodeNotFound             = "not_found"
	CodeInternal             = "internal_error"
)

type Error struct {
	Status int
	Code   string
	Err    error

	// RetryAfter is only set on rate_limited errors; handlers surface it
	// as a Retry-After header.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func InvalidAudioFormat(err error) *Error {
	return New(http.StatusUnsupportedMediaType, CodeInvalidAudioFormat, err)
}

func AudioTooLarge(err error) *Error {
	return New(http.StatusRequestEntityTooLarge, CodeAudioTooLarge, err)
}

func AudioTooShort(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeAudioTooShort, err)
}

func AudioTooLong(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeAudioTooLong, err)
}

func ExtractionFailed(err error) *Error {
	return New(http.StatusUnprocessableEntity, CodeExtractionFailed, err)
}

func UserNotEnrolled(err error) *Error {
	return New(http.StatusNotFound, CodeUserNotEnrolled, err)
}

func ModelVersionMismatch(err error) *Error {
	return New(http.StatusConflict, CodeModelVersionMismatch, err)
}

func RateLimited(err error) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, err)
}

func RateLimitedFor(retryAfter time.Duration) *Error {
	e := New(http.StatusTooManyRequests, CodeRateLimited,
		fmt.Errorf("too many failed attempts, retry in %s", retryAfter.Round(time.Second)))
	e.RetryAfter = retryAfter
	return e
}

func Timeout(err error) *Error {
	return New(http.StatusGatewayTimeout, CodeTimeout, err)
}

func StorageUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeStorageUnavailable, err)
}

func FeatureDisabled(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeFeatureDisabled, err)
}

func BadRequest(err error) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, err)
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, err)
}

// From classifies err as an *Error, defaulting to internal_error for
// anything outside the taxonomy.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
