package backend

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrNotFound matches any Error whose code denotes a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrNoBucket is returned by App.Storage when no bucket was configured.
	ErrNoBucket = errors.New("no storage bucket configured")
)

// Normalized error codes.
const (
	CodeNotFound           = "not-found"
	CodeFailedPrecondition = "failed-precondition"
	CodePermissionDenied   = "permission-denied"
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidArgument    = "invalid-argument"
	CodeInternal           = "internal"
	CodeUnknown            = "unknown"
	CodeUnavailable        = "unavailable"

	CodeMFARequired         = "auth/multi-factor-auth-required"
	CodeInvalidCode         = "auth/invalid-verification-code"
	CodeCodeExpired         = "auth/code-expired"
	CodeInvalidMFASession   = "auth/invalid-multi-factor-session"
	CodeMissingMFASession   = "auth/missing-multi-factor-session"
	CodeInvalidVerification = "auth/invalid-verification-id"
	CodeEmailExists         = "auth/email-already-in-use"
	CodeWrongPassword       = "auth/wrong-password"
	CodeUserNotFound        = "auth/user-not-found"
	CodeInvalidCredential   = "auth/invalid-credential"

	CodeObjectNotFound = "storage/object-not-found"
	CodeUnauthorized   = "storage/unauthorized"
)

// Error is a failure reported by the backend.
type Error struct {
	// Code is a normalized code such as "not-found" or "auth/code-expired".
	Code string
	// Message is the backend's human-readable message.
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrNotFound for not-found codes.
func (e *Error) Is(target error) bool {
	if target == ErrNotFound {
		return e.Code == CodeNotFound || e.Code == CodeObjectNotFound
	}
	return false
}

// NewError creates an Error with a message formatted like the Firebase SDKs.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the normalized code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	var mfa *MFARequiredError
	if errors.As(err, &mfa) {
		return CodeMFARequired
	}
	return ""
}

// MFARequiredError reports that a sign-in needs a second factor.
type MFARequiredError struct {
	Resolver *MFAResolver
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("Firebase: Error (%s).", CodeMFARequired)
}
