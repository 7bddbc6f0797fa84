// Package auth obtains and refreshes the access credentials used by an
// appliance cloud session.
//
// The session supervisor only depends on the Authenticator capability
// (full login, refresh login). OAuth2Authenticator is the stock
// implementation, built on golang.org/x/oauth2.
//
// # Error Taxonomy
//
// Token endpoint failures are classified so callers can decide whether a
// failure is worth retrying:
//
//   - ErrAuthFailed: the server rejected the credentials (HTTP 4xx), or
//     answered without an access token
//   - ErrServerError: the server failed (HTTP 5xx)
//
// Network and context failures are returned wrapped, outside the taxonomy.
//
// # Expiry
//
// Access tokens are treated as expired ExpirySkew (2 minutes) before the
// lifetime reported by the server.
package auth
