package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Config configures an OAuth2Authenticator.
type OAuth2Config struct {
	// ClientID and ClientSecret identify the application.
	ClientID     string
	ClientSecret string

	// AuthURL and TokenURL are the OAuth2 endpoints.
	AuthURL  string
	TokenURL string

	// RedirectURL is sent with token requests.
	RedirectURL string

	// Scopes requested on full login.
	Scopes []string

	// Username and Password are the account credentials.
	Username string
	Password string

	// HTTPClient is used for token requests (default: http.DefaultClient
	// with a 30s timeout).
	HTTPClient *http.Client

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Validate checks that the required fields are set.
func (c OAuth2Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("auth: client id is required")
	}
	if c.TokenURL == "" {
		return errors.New("auth: token URL is required")
	}
	if c.Username == "" || c.Password == "" {
		return errors.New("auth: username and password are required")
	}
	return nil
}

// OAuth2Authenticator logs in with the OAuth2 password grant and refreshes
// with the refresh-token grant. Client credentials are sent with HTTP basic
// auth.
type OAuth2Authenticator struct {
	conf     *oauth2.Config
	username string
	password string
	client   *http.Client
	logger   *slog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewOAuth2Authenticator creates an authenticator from config.
func NewOAuth2Authenticator(cfg OAuth2Config) (*OAuth2Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &OAuth2Authenticator{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// FullLogin performs a complete login with the account credentials.
func (a *OAuth2Authenticator) FullLogin(ctx context.Context) (Credentials, error) {
	a.logger.Debug("full login", "user", a.username)

	tok, err := a.conf.PasswordCredentialsToken(a.withClient(ctx), a.username, a.password)
	if err != nil {
		return Credentials{}, Classify(err)
	}
	return a.credentialsFrom(tok, "")
}

// RefreshLogin obtains a new access token from the current refresh token.
// The previous refresh token is kept if the server does not rotate it.
func (a *OAuth2Authenticator) RefreshLogin(ctx context.Context, current Credentials) (Credentials, error) {
	if current.RefreshToken == "" {
		return Credentials{}, fmt.Errorf("%w: %w", ErrAuthFailed, ErrNoRefreshToken)
	}
	a.logger.Debug("refresh login")

	// An empty access token forces the token source to hit the endpoint.
	src := a.conf.TokenSource(a.withClient(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credentials{}, Classify(err)
	}

	creds, err := a.credentialsFrom(tok, current.RefreshToken)
	if err != nil {
		return Credentials{}, err
	}
	if creds.UserID == "" {
		creds.UserID = current.UserID
	}
	return creds, nil
}

func (a *OAuth2Authenticator) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.client)
}

func (a *OAuth2Authenticator) credentialsFrom(tok *oauth2.Token, fallbackRefresh string) (Credentials, error) {
	if tok == nil || tok.AccessToken == "" {
		return Credentials{}, fmt.Errorf("%w: token response without access token", ErrAuthFailed)
	}

	creds := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = fallbackRefresh
	}
	if !tok.Expiry.IsZero() {
		creds.Expiry = tok.Expiry.Add(-ExpirySkew)
	} else if tok.ExpiresIn > 0 {
		creds.Expiry = a.now().Add(time.Duration(tok.ExpiresIn)*time.Second - ExpirySkew)
	}
	if uid, ok := tok.Extra("userId").(string); ok {
		creds.UserID = uid
	}
	return creds, nil
}
