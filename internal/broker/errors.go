package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind distinguishes broker failure causes so callers can react
// differently to an expired session than to a flaky network, instead of
// matching on message strings.
type ErrorKind string

const (
	// KindAuth covers bad credentials and expired daily session tokens.
	KindAuth ErrorKind = "auth"
	// KindNetwork covers transport failures and upstream 5xx responses.
	KindNetwork ErrorKind = "network"
	// KindMalformed covers responses that could not be interpreted.
	KindMalformed ErrorKind = "malformed"
	// KindRejected covers requests the broker understood and refused.
	KindRejected ErrorKind = "rejected"
)

// Error is the structured failure type produced at the broker boundary.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("breeze %s error (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("breeze %s error: %s", e.Kind, e.Message)
}

// KindOf reports the ErrorKind of err, or an empty kind for non-broker
// errors.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsAuthError reports whether err is an authentication failure requiring
// the user to supply a fresh session token.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindRejected
	default:
		return KindMalformed
	}
}
