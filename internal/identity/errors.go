package identity

import (
	"errors"
	"fmt"
)

// Code classifies provider failures for user-facing messaging.
type Code string

const (
	CodeEmailInUse         Code = "email-already-in-use"
	CodeWeakPassword       Code = "weak-password"
	CodeInvalidCredentials Code = "invalid-credentials"
	CodeUserNotFound       Code = "user-not-found"
	CodeFlowCanceled       Code = "flow-canceled"
	CodeNetwork            Code = "network-error"
	CodeInternal           Code = "internal"
)

// Error is the error type raised by identity providers. Handlers
// propagate it verbatim to the form layer; it is never swallowed.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity: %s", e.Code)
	}
	return fmt.Sprintf("identity: %s: %s", e.Code, e.Message)
}

// NewError builds a provider error with the given code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the provider error code, or CodeInternal when err is
// not an identity error.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return CodeInternal
}
