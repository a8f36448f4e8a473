package session

import (
	"errors"
	"fmt"
)

type Reason string

const (
	// InvalidCredentials means the backend answered with a non-2xx status.
	InvalidCredentials Reason = "invalid_credentials"
	// Unavailable means no answer was received at all.
	Unavailable Reason = "unavailable"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("auth backend unavailable")
)

type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Reason)
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrInvalidCredentials:
		return e.Reason == InvalidCredentials
	case ErrUnavailable:
		return e.Reason == Unavailable
	}
	return false
}
