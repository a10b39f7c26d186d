package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// Error is an authentication failure. Response carries the provider's raw
// response body for diagnostics when one was received.
type Error struct {
	Op       string // "device_code", "device_token", "refresh", "credentials"
	Response string
	Err      error
}

func (e *Error) Error() string {
	if e.Response != "" {
		return fmt.Sprintf("auth %s: %v: %s", e.Op, e.Err, e.Response)
	}
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrapErr converts a provider error into *Error, extracting the raw
// response body when the oauth2 package captured one.
func wrapErr(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &Error{Op: op, Response: string(rerr.Body), Err: err}
	}
	return &Error{Op: op, Err: err}
}
