package auth

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

// ExpirySkew is subtracted from the server-reported token lifetime so a
// token is refreshed before the server starts rejecting it.
const ExpirySkew = 120 * time.Second

// Credentials is the token bundle produced by a login.
type Credentials struct {
	// AccessToken is the short-lived bearer token.
	AccessToken string

	// RefreshToken is used for refresh logins.
	RefreshToken string

	// Expiry is when AccessToken should no longer be used.
	Expiry time.Time

	// UserID is the account identifier, if the server reported one.
	UserID string
}

// IsZero reports whether no login has produced these credentials.
func (c Credentials) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Valid reports whether the access token is present and unexpired at now.
func (c Credentials) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Before(c.Expiry)
}

// Bearer returns the Authorization header value.
func (c Credentials) Bearer() string {
	return "Bearer " + c.AccessToken
}

// isTransportError reports network and context failures that never
// reached the server.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
