package payment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrInProgress      = errors.New("qr generation already in progress")
	ErrSuperseded      = errors.New("payment attempt superseded")
	ErrNothingToCancel = errors.New("no pending payment to cancel")
	ErrNoPayment       = errors.New("no confirmed payment to check")
	ErrRejected        = errors.New("payment rejected by provider")
)

// ValidationError is returned before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RequestError wraps a failed call to the payment collaborator.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *RequestError) Unwrap() error { return e.Err }
