package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an auth failure so callers can pick the right reaction:
// back off, re-pair, or just show a message.
type Kind int

const (
	// KindInvalidURL is a request-construction defect. Should never
	// surface to a user.
	KindInvalidURL Kind = iota
	// KindInvalidResponse means the server answered with something that
	// does not parse.
	KindInvalidResponse
	// KindInvalidCode means the pairing code is unknown, expired, or
	// rejected by the server.
	KindInvalidCode
	// KindCodeNotConfirmed means the code is valid but the user has not
	// approved it yet.
	KindCodeNotConfirmed
	// KindCodeExpired is client-observed expiry of the pairing session.
	KindCodeExpired
	// KindServerError is any unexpected non-2xx answer.
	KindServerError
	// KindRateLimited is a 429; callers should back off, not retry
	// immediately.
	KindRateLimited
	// KindNotAuthenticated means the operation needs a refresh token and
	// none is stored.
	KindNotAuthenticated
	// KindSessionExpired means the refresh token itself was rejected.
	// Credentials are cleared; a full re-pairing is required.
	KindSessionExpired
	// KindNetworkError is a transport-level failure: timeout, DNS, TLS.
	KindNetworkError
)

var kindMessages = map[Kind]string{
	KindInvalidURL:       "internal error: request URL could not be built",
	KindInvalidResponse:  "the server returned an unreadable response",
	KindInvalidCode:      "pairing code not found or expired",
	KindCodeNotConfirmed: "pairing code has not been confirmed yet",
	KindCodeExpired:      "pairing code expired",
	KindServerError:      "the server reported an error",
	KindRateLimited:      "too many requests, slow down and try again",
	KindNotAuthenticated: "not signed in on this device",
	KindSessionExpired:   "session expired, pair this device again",
	KindNetworkError:     "could not reach the server",
}

// Error is an auth failure with its classification and, when the server
// provided one, its detail message.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := kindMessages[e.Kind]
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind: errors.Is(err, &Error{Kind: k}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrKind builds a bare classification error, used both as a return value
// and as an errors.Is target.
func ErrKind(kind Kind) *Error {
	return &Error{Kind: kind}
}

// IsKind reports whether err is an auth error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
