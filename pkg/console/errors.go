package console

import "errors"

// Precondition and challenge errors. The log text reported for each is
// chosen by the operation that returns it.
var (
	ErrNoProvider            = errors.New("no backend provider available")
	ErrNotInitialized        = errors.New("console not initialized")
	ErrAlreadyInitialized    = errors.New("console already initialized")
	ErrNoBlobStorage         = errors.New("blob storage not configured")
	ErrSessionExpired        = errors.New("mfa session expired")
	ErrNoFactorsEnrolled     = errors.New("no mfa factors enrolled")
	ErrUnsupportedFactorKind = errors.New("unsupported mfa factor kind")
	ErrInvalidCode           = errors.New("invalid verification code")
	ErrCodeExpired           = errors.New("verification code expired")
)

// ValidationError reports a request rejected before any backend call.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
