package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the service layer matches exactly one
// of these with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrState         = errors.New("state error")
	ErrAuthorization = errors.New("authorization error")
	ErrNotFound      = errors.New("not found")
	ErrConsistency   = errors.New("consistency error")
	ErrSystem        = errors.New("system error")
)

type Error struct {
	Kind      error
	Field     string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Field != "" && !strings.Contains(msg, e.Field) {
		return fmt.Sprintf("%s: %s", e.Field, msg)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(field string, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

func StateError(current string, target string) error {
	return &Error{
		Kind:    ErrState,
		Field:   "status",
		Message: fmt.Sprintf("invalid state transition from %q to %q", current, target),
	}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: ErrAuthorization, Message: fmt.Sprintf(format, args...)}
}

func NotFound(entity string, id string) error {
	return &Error{Kind: ErrNotFound, Field: entity, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

func Consistency(format string, args ...any) error {
	return &Error{Kind: ErrConsistency, Message: fmt.Sprintf(format, args...)}
}

func System(err error, retryable bool) error {
	return &Error{Kind: ErrSystem, Message: "internal error", Retryable: retryable, Err: err}
}

// KindOf returns the sentinel kind of err, or ErrSystem when err is not classified.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrState, ErrAuthorization, ErrNotFound, ErrConsistency, ErrSystem} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrSystem
}

// KindName is the wire name of an error kind.
func KindName(kind error) string {
	switch kind {
	case ErrValidation:
		return "validation"
	case ErrState:
		return "state"
	case ErrAuthorization:
		return "authorization"
	case ErrNotFound:
		return "not_found"
	case ErrConsistency:
		return "consistency"
	default:
		return "system"
	}
}
