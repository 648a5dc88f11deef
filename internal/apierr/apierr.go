// Package apierr defines the typed failures returned by the library service
// clients. Every failure carries a Kind; callers branch on it with errors.Is
// against the Err* sentinels or with KindOf.
package apierr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindMalformedIdentifier Kind = "MALFORMED_IDENTIFIER"
	KindNetwork             Kind = "NETWORK"
	KindDecode              Kind = "DECODE"
	KindNotFound            Kind = "NOT_FOUND"
	KindUnavailable         Kind = "UNAVAILABLE"
	KindServer              Kind = "SERVER"
)

// Sentinels match any *Error of the same Kind.
var (
	ErrMalformedIdentifier = &Error{Kind: KindMalformedIdentifier}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrDecode              = &Error{Kind: KindDecode}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
	ErrServer              = &Error{Kind: KindServer}
)

// Error is a failed library service operation.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Status == 0 && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func Malformed(op, msg string) *Error {
	return &Error{Kind: KindMalformedIdentifier, Op: op, Message: msg}
}

func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func Decode(op string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

func NotFound(op string, status int, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Status: status, Message: msg}
}

func Unavailable(op string, status int, msg string) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Status: status, Message: msg}
}

func Server(op string, status int, msg string) *Error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: msg}
}
