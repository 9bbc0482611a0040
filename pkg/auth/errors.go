package auth

import (
	"errors"
	"fmt"
)

// ErrOTPNotFound means no code is pending for the identity.
var ErrOTPNotFound = errors.New("no verification code pending")

// ErrOTPExpired means the pending code outlived its time-to-live.
var ErrOTPExpired = errors.New("verification code expired")

// ErrOTPInvalid means the submitted code does not match the pending one.
var ErrOTPInvalid = errors.New("verification code invalid")

// ErrDeliveryFailed means the code could not be mailed. The enrollment or
// login attempt stays pending so delivery can be retried.
var ErrDeliveryFailed = errors.New("failed to deliver verification code")

// ValidationError reports a request rejected before any work was done.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// ProcessingError reports which submitted frame could not be processed.
// Index is one-based to match how users count their captures.
type ProcessingError struct {
	Index int
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("failed to process image %d: %v", e.Index, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
