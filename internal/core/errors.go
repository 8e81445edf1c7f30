package core

import (
	"errors"
	"fmt"
)

// Error classes. Every failure surfaced by a studio operation wraps exactly one of these.
var (
	// ErrValidation is a local precondition failure; the service was never contacted.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork is a transport failure (unreachable host, DNS, timeout).
	ErrNetwork = errors.New("network failure")
	// ErrService is a non-success response from the service.
	ErrService = errors.New("service error")
	// ErrUpload is any failure during voice cloning.
	ErrUpload = errors.New("upload failed")
	// ErrServiceUnavailable is returned when the voice catalog cannot be fetched or parsed.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrCancelled is returned when an in-flight operation was cancelled or superseded.
	ErrCancelled = errors.New("operation cancelled")
)

// Validation failures.
var (
	ErrTextEmpty           = fmt.Errorf("%w: text cannot be empty", ErrValidation)
	ErrTextTooLong         = fmt.Errorf("%w: text too long", ErrValidation)
	ErrNoVoiceSelected     = fmt.Errorf("%w: no voice profile selected", ErrValidation)
	ErrOffline             = fmt.Errorf("%w: synthesis service is offline", ErrValidation)
	ErrBusy                = fmt.Errorf("%w: a synthesis request is already in flight", ErrValidation)
	ErrUnsupportedLanguage = fmt.Errorf("%w: unsupported language", ErrValidation)
	ErrUnsupportedFormat   = fmt.Errorf("%w: unsupported output format", ErrValidation)
)

// ServiceError carries the human-readable detail of a non-success response.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	return e.Detail
}

// Unwrap makes errors.Is(err, ErrService) hold for every ServiceError.
func (e *ServiceError) Unwrap() error {
	return ErrService
}

// Retryable reports whether the failure deserves a retry affordance
// (re-check connectivity or re-attempt) rather than corrected input.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServiceUnavailable)
}
