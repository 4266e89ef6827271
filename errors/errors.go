package errors

import "fmt"

// Kind classifies an AppError for transport mapping.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindStateConflict   Kind = "state_conflict"
	KindIntegrity       Kind = "integrity"
	KindExternalService Kind = "external_service"
	KindNotFound        Kind = "not_found"
)

// AppError carries a machine-readable code alongside a message safe to show
// to runners. Internal wraps the underlying cause, if any.
type AppError struct {
	Kind     Kind
	Code     string
	Message  string
	UserMsg  string
	Internal error
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Internal }

// UserMessage returns the text shown to the end user, falling back to the
// internal message when none was set.
func (e *AppError) UserMessage() string {
	if e.UserMsg != "" {
		return e.UserMsg
	}
	return e.Message
}

// HTTPStatus maps the error kind to a response code.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return 400
	case KindAuthorization:
		return 403
	case KindNotFound:
		return 404
	case KindStateConflict, KindIntegrity:
		return 409
	case KindExternalService:
		return 502
	default:
		return 500
	}
}

func Validation(code, msg string) *AppError {
	return &AppError{Kind: KindValidation, Code: code, Message: msg}
}

func Authorization(code, msg string) *AppError {
	return &AppError{Kind: KindAuthorization, Code: code, Message: msg}
}

func StateConflict(code, msg string) *AppError {
	return &AppError{Kind: KindStateConflict, Code: code, Message: msg}
}

func Integrity(code, msg string) *AppError {
	return &AppError{Kind: KindIntegrity, Code: code, Message: msg}
}

func NotFound(code, msg string) *AppError {
	return &AppError{Kind: KindNotFound, Code: code, Message: msg}
}

func External(code, msg string, cause error) *AppError {
	return &AppError{Kind: KindExternalService, Code: code, Message: msg, Internal: cause}
}

// WithUserMsg sets the user-facing text and returns the error for chaining.
func (e *AppError) WithUserMsg(msg string) *AppError {
	e.UserMsg = msg
	return e
}

// WithCause attaches the underlying error and returns the error for chaining.
func (e *AppError) WithCause(cause error) *AppError {
	e.Internal = cause
	return e
}
