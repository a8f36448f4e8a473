package cart

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknownProduct  Kind = "unknown_product"
	KindNoVariant       Kind = "no_variant"
	KindSyncFailed      Kind = "sync_failed"
	KindUnauthenticated Kind = "unauthenticated"
)

var (
	ErrUnknownProduct  = &Error{Kind: KindUnknownProduct}
	ErrNoVariant       = &Error{Kind: KindNoVariant}
	ErrSyncFailed      = &Error{Kind: KindSyncFailed}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

// Error is returned by every failing cart operation. errors.Is matches on
// Kind, so callers can test against the Err* values above.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "cart: " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func syncFailed(detail string, err error) *Error {
	return &Error{Kind: KindSyncFailed, Detail: detail, Err: err}
}
