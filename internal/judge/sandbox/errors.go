package sandbox

import (
	"errors"
	"fmt"

	apperrors "codearena/pkg/errors"
)

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx/429 replies.
	ErrUnavailable = errors.New("sandbox unavailable")
	// ErrProtocol covers replies that cannot be understood.
	ErrProtocol = errors.New("sandbox protocol error")
)

// Error describes a failed sandbox call. Detail carries the sandbox's own
// message (or raw body) so it can be logged upstream.
type Error struct {
	Kind       error
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code maps the error kind to the application error code.
func (e *Error) Code() apperrors.ErrorCode {
	if e.Kind == ErrUnavailable {
		return apperrors.SandboxUnavailable
	}
	return apperrors.SandboxProtocolError
}

// CodeOf returns the sandbox error code carried by err, or JudgeSystemError.
func CodeOf(err error) apperrors.ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return apperrors.JudgeSystemError
}

func unavailable(op string, err error) *Error {
	return &Error{Kind: ErrUnavailable, Op: op, Err: err}
}

func protocol(op string, err error) *Error {
	return &Error{Kind: ErrProtocol, Op: op, Err: err}
}
