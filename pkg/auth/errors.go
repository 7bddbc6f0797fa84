package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Authentication errors.
var (
	// ErrAuthFailed indicates the credentials were rejected (4xx-class).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrServerError indicates a remote-side failure (5xx-class).
	ErrServerError = errors.New("server error")

	// ErrNoRefreshToken is returned by a refresh login without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
)

// StatusError carries the HTTP status of a failed auth request.
// It unwraps to ErrAuthFailed or ErrServerError.
type StatusError struct {
	Kind       error
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (HTTP %d): %s", e.Kind, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// StatusErrorFor maps an HTTP status code to an auth error.
// Returns nil for non-error statuses.
func StatusErrorFor(code int, body string) error {
	switch {
	case code >= http.StatusBadRequest && code < http.StatusInternalServerError:
		return &StatusError{Kind: ErrAuthFailed, StatusCode: code, Body: body}
	case code >= http.StatusInternalServerError:
		return &StatusError{Kind: ErrServerError, StatusCode: code, Body: body}
	default:
		return nil
	}
}

// Classify converts an error from the token endpoint into the auth error
// taxonomy. HTTP failures become StatusErrors; a malformed token response
// becomes ErrAuthFailed; transport failures are wrapped unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		code := 0
		if rErr.Response != nil {
			code = rErr.Response.StatusCode
		}
		if se := StatusErrorFor(code, string(rErr.Body)); se != nil {
			return se
		}
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	if isTransportError(err) {
		return fmt.Errorf("token request: %w", err)
	}

	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

// IsFatal reports whether err belongs to the auth taxonomy.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrServerError)
}
