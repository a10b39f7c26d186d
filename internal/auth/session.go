// Package auth owns the OAuth2 device-flow login and token refresh for the
// remote sheet. Tokens are persisted after every mutation so the next
// launch does not need user interaction.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// SpreadsheetScope grants read/write access to spreadsheet values.
const SpreadsheetScope = "https://www.googleapis.com/auth/spreadsheets"

// expiryLeeway is subtracted from the stored expiry when deciding whether
// a token is still usable, so a token never expires mid-request.
const expiryLeeway = 30 * time.Second

// Config carries everything the session needs; there is no ambient
// configuration. Endpoint and HTTPClient exist so tests can point the
// session at a fake provider.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Endpoint overrides the provider endpoints. Zero value means Google.
	Endpoint oauth2.Endpoint

	// Prompt is invoked during device-flow login with the user code and
	// verification URL the user must visit on a second device. Defaults
	// to printing on stderr.
	Prompt func(userCode, verificationURL string)

	// HTTPClient is used for all provider calls. Defaults to a client
	// with a request timeout.
	HTTPClient *http.Client
}

// Session holds the current token set and serializes refreshes.
type Session struct {
	cfg    *oauth2.Config
	store  *FileStore
	prompt func(userCode, verificationURL string)
	client *http.Client

	mu    sync.Mutex // guards creds
	creds *Credentials

	refreshGroup singleflight.Group
}

// NewSession creates a session persisting tokens through the given store.
func NewSession(cfg Config, store *FileStore) *Session {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{SpreadsheetScope}
	}
	prompt := cfg.Prompt
	if prompt == nil {
		prompt = func(userCode, verificationURL string) {
			fmt.Fprintf(os.Stderr, "Please visit %s and type code %s\n", verificationURL, userCode)
		}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Session{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		store:  store,
		prompt: prompt,
		client: client,
	}
}

// Bootstrap loads persisted credentials, running a device-flow login when
// none exist. It does not verify the loaded token is unexpired; the first
// Token call refreshes it if needed.
func (s *Session) Bootstrap(ctx context.Context) error {
	creds, err := s.store.Load()
	if err != nil {
		return &Error{Op: "credentials", Err: err}
	}
	if creds == nil {
		return s.Login(ctx)
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

// Login runs the OAuth2 device authorization flow: it requests a device
// code, hands the user code and verification URL to the prompt, then polls
// the token endpoint at the provider-supplied interval until the user
// approves, denies, or the code expires. The resulting token set is
// persisted before Login returns.
func (s *Session) Login(ctx context.Context) error {
	ctx = s.withHTTPClient(ctx)

	da, err := s.cfg.DeviceAuth(ctx)
	if err != nil {
		return wrapErr("device_code", err)
	}

	s.prompt(da.UserCode, da.VerificationURI)

	// DeviceAccessToken polls at da.Interval, treating authorization_pending
	// as retry-and-wait and access_denied / expired_token as fatal.
	tok, err := s.cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return wrapErr("device_token", err)
	}

	return s.adopt(tok, "")
}

// Token returns a usable bearer token, refreshing first when the stored
// one has expired. Concurrent callers racing past the expiry check share a
// single refresh.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	creds := s.creds
	s.mu.Unlock()

	if creds == nil {
		return "", &Error{Op: "token", Err: errors.New("session not bootstrapped")}
	}
	if creds.Valid(time.Now(), expiryLeeway) {
		return creds.AccessToken, nil
	}

	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		// Re-check under the single flight: the winner may already have
		// installed a fresh token by the time a queued caller runs.
		s.mu.Lock()
		current := s.creds
		s.mu.Unlock()
		if current.Valid(time.Now(), expiryLeeway) {
			return current.AccessToken, nil
		}
		if err := s.refresh(ctx, current.RefreshToken); err != nil {
			return "", err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.creds.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh exchanges the refresh token for a new access token and expiry,
// then persists the updated credential set.
func (s *Session) refresh(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return &Error{Op: "refresh", Err: errors.New("no refresh token; run login again")}
	}

	ctx = s.withHTTPClient(ctx)
	tok, err := s.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return wrapErr("refresh", err)
	}

	slog.Debug("access token refreshed", "expires_at", tok.Expiry)
	return s.adopt(tok, refreshToken)
}

// adopt installs a provider token as the current credential set and
// persists it. Providers may omit the refresh token on refresh responses;
// the previous one is kept in that case.
func (s *Session) adopt(tok *oauth2.Token, previousRefresh string) error {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	creds := &Credentials{
		AccessToken:  tok.AccessToken,
		ExpiresAt:    tok.Expiry.Unix(),
		RefreshToken: refresh,
	}

	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()

	if err := s.store.Save(creds); err != nil {
		return &Error{Op: "credentials", Err: err}
	}
	return nil
}

func (s *Session) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}
