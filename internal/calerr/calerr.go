// Package calerr implements the node's structured error taxonomy: every
// error surfaced across a package boundary carries a Kind plus a
// message, never secrets. It extends pkg/utils.Wrap-style contextual %w
// wrapping with a classification callers can switch on without string
// matching.
package calerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller, independent of its message.
type Kind uint8

const (
	// KindUnknown is never constructed deliberately; its presence on an
	// error indicates the error predates this taxonomy.
	KindUnknown Kind = iota
	KindNotFound
	KindPermissionDenied
	KindInvalidArgument
	KindResourceExhausted
	KindStorage
	KindProtocol
	KindCrypto
	KindExternal
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindStorage:
		return "Storage"
	case KindProtocol:
		return "Protocol"
	case KindCrypto:
		return "Crypto"
	case KindExternal:
		return "External"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a kind-tagged, wrappable error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap adds context and a Kind to err. It returns nil if err is nil,
// matching the pkg/utils.Wrap contract.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: message, Err: err}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting of the message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// As reports whether err (or any error it wraps) is a *Error and returns
// its Kind, mirroring errors.As without forcing callers to declare a
// local *Error variable.
func As(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindUnknown, false
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := As(err)
	return ok && k == kind
}
