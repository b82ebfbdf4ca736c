package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	// ErrAuthentication: the server rejected the bearer token (401/403).
	ErrAuthentication ErrorKind = "authentication"
	// ErrNetwork: no response was received (DNS, refused, timeout).
	ErrNetwork ErrorKind = "network"
	// ErrServer: HTTP >= 400 with a response body.
	ErrServer ErrorKind = "server"
	// ErrParse: the response body did not match any known shape.
	ErrParse ErrorKind = "parse"
)

type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	switch {
	case e.Kind == ErrNetwork:
		return fmt.Sprintf("server unreachable: %s", e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

func (e *APIError) Unwrap() error {
	return e.cause
}

func networkError(err error) *APIError {
	return &APIError{Kind: ErrNetwork, Message: err.Error(), cause: err}
}

func parseError(message string) *APIError {
	return &APIError{Kind: ErrParse, Message: message}
}

// statusError classifies an HTTP error status: 401/403 are authentication
// failures, everything else is a server error carrying the server-supplied
// message when one was present.
func statusError(statusCode int, message string) *APIError {
	kind := ErrServer
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		kind = ErrAuthentication
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &APIError{Kind: kind, StatusCode: statusCode, Message: message}
}

func KindOf(err error) (ErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}

func IsAuthentication(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrAuthentication
}

func IsNetwork(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == ErrNetwork
}
