package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// ErrPaymentExpired is returned for a status change that arrives after the
// payment window closed. It is an ErrInvalidTransition.
var ErrPaymentExpired = fmt.Errorf("%w: payment window closed", ErrInvalidTransition)
