package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidResponse is returned when a success response has no usable body.
var ErrInvalidResponse = errors.New("invalid response from remote service")

// StatusError is returned when a remote call fails. StatusCode is zero for
// transport failures (connection refused, timeout, DNS).
// Extractable via errors.As(). Supports Unwrap().
type StatusError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("remote: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Permanent reports whether the request can never succeed as sent.
func (e *StatusError) Permanent() bool {
	if errors.Is(e.Err, ErrInvalidResponse) {
		return true
	}
	switch e.StatusCode {
	case http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// Unauthorized reports whether the credentials were rejected.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Reachable reports whether the server answered at all. Any 4xx, including
// a credential rejection, proves the service is up.
func (e *StatusError) Reachable() bool {
	return e.StatusCode > 0 && e.StatusCode < http.StatusInternalServerError
}

func newStatusError(op string, statusCode int, body []byte) *StatusError {
	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}
	return &StatusError{
		Operation:  op,
		StatusCode: statusCode,
		Err:        fmt.Errorf("HTTP %d: %s", statusCode, msg),
	}
}
