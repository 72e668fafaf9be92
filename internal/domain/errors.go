package domain

import (
	"errors"
	"fmt"
)

// Code classifies a failure so the signaling layer can report it to the
// calling connection without leaking internals.
type Code string

const (
	CodeValidation    Code = "validation"
	CodeAuthorization Code = "authorization"
	CodeNotFound      Code = "not_found"
	CodeEngine        Code = "engine"
	CodeConflict      Code = "conflict"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) error {
	return &Error{Code: CodeAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// EngineFailure wraps an error returned by the media engine. Already
// classified errors pass through untouched.
func EngineFailure(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: CodeEngine, Message: "media engine call failed", Err: err}
}

// CodeOf extracts the classification of err, defaulting to CodeEngine for
// anything that escaped untyped.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeEngine
}

func IsCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}
