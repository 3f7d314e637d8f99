package errors

import (
	"errors"
)

// Kind classifies a failure for callers that need to branch on it
type Kind string

const (
	KindValidation   Kind = "validation"
	KindCapability   Kind = "capability_unavailable"
	KindBackend      Kind = "backend_failure"
	KindUnauthorized Kind = "unauthorized"
	KindBusy         Kind = "busy"
	KindInternal     Kind = "internal"
)

// UserError represents an error with both technical and user-friendly messages
type UserError struct {
	Kind      Kind
	Err       error
	UserMsg   string
	Retryable bool
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Is matches another UserError of the same kind, so the predefined values
// below work as targets for errors.Is on wrapped copies.
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == e.Err
}

// Predefined errors
var (
	ErrTooFewKeyframes = &UserError{
		Kind:      KindValidation,
		Err:       errors.New("at least 2 prompts required"),
		UserMsg:   "A morph needs at least two keyframes, one per line.",
		Retryable: false,
	}

	ErrVideoUnavailable = &UserError{
		Kind:      KindCapability,
		Err:       errors.New("video encoder not available"),
		UserMsg:   "Video output was requested but no video encoder is installed.",
		Retryable: false,
	}

	ErrBackendUnavailable = &UserError{
		Kind:      KindBackend,
		Err:       errors.New("image backend unavailable"),
		UserMsg:   "The image generation service is currently unavailable. Please try again later.",
		Retryable: true,
	}

	ErrInvalidWorkflow = &UserError{
		Kind:      KindValidation,
		Err:       errors.New("invalid workflow"),
		UserMsg:   "There's a problem with the image generation configuration. Please contact the administrator.",
		Retryable: false,
	}

	ErrUnauthorized = &UserError{
		Kind:      KindUnauthorized,
		Err:       errors.New("unauthorized user"),
		UserMsg:   "Sorry, you are not authorized to use this bot.",
		Retryable: false,
	}

	ErrMorphInProgress = &UserError{
		Kind:      KindBusy,
		Err:       errors.New("morph already in progress"),
		UserMsg:   "You already have a morph running. Send /stop to interrupt it.",
		Retryable: false,
	}
)

// Wrap wraps a technical error with a user message
func Wrap(kind Kind, err error, userMsg string, retryable bool) *UserError {
	return &UserError{
		Kind:      kind,
		Err:       err,
		UserMsg:   userMsg,
		Retryable: retryable,
	}
}

// Validation builds a validation error whose technical and user text match
func Validation(err error) *UserError {
	return Wrap(KindValidation, err, err.Error(), false)
}

// Backend marks a failed generation call
func Backend(err error) *UserError {
	return Wrap(KindBackend, err, "The image backend failed while rendering the morph.", true)
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMsg
	}
	// Default message for unexpected errors
	return "An unexpected error occurred. Please try again later."
}

// KindOf reports the kind of the first UserError in the chain
func KindOf(err error) Kind {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Kind
	}
	return KindInternal
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Retryable
	}
	return false
}
