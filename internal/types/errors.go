package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request-level failures so transports can map them to a status.
type ErrorKind int

const (
	KindSystem ErrorKind = iota
	KindAuth
	KindValidation
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "system"
	}
}

// Error carries a user-facing message plus an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func AuthError(msg string) error {
	return &Error{Kind: KindAuth, Message: msg}
}

func ValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func ConflictError(msg string, err error) error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

func NotFoundError(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func SystemError(msg string, err error) error {
	return &Error{Kind: KindSystem, Message: msg, Err: err}
}

// KindOf reports the kind of err, defaulting to KindSystem.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}
