package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

// DefaultProvider is the OAuth provider used when none is given.
const DefaultProvider = "github"

// DefaultSignInRoute is where HardLogout sends the user.
const DefaultSignInRoute = "/signin"

// Navigator moves the user somewhere else: a browser tab for absolute URLs,
// a sign-in prompt for client routes.
type Navigator interface {
	Navigate(target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target string) error

// Navigate calls f(target).
func (f NavigatorFunc) Navigate(target string) error {
	return f(target)
}

// SessionClient owns the user session: OAuth sign-in, token validation,
// refresh, logout, and the EnsureValidToken protocol run before every
// request that carries the user's identity.
type SessionClient struct {
	t           *Transport
	store       *tokenstore.Store
	nav         Navigator
	signInRoute string
	logger      *slog.Logger
}

// NewSessionClient creates a SessionClient. nav may be nil, in which case
// navigation is only logged.
func NewSessionClient(t *Transport, store *tokenstore.Store, nav Navigator, signInRoute string, logger *slog.Logger) *SessionClient {
	if logger == nil {
		logger = slog.Default()
	}

	if signInRoute == "" {
		signInRoute = DefaultSignInRoute
	}

	return &SessionClient{t: t, store: store, nav: nav, signInRoute: signInRoute, logger: logger}
}

// Store returns the token store the client writes to.
func (c *SessionClient) Store() *tokenstore.Store {
	return c.store
}

// IsAuthenticated reports whether an access token is stored. It is a
// presence check only: no request is made and the token may be expired.
func (c *SessionClient) IsAuthenticated() bool {
	tok, err := c.store.AccessToken()
	if err != nil {
		c.logger.Warn("reading access token", slog.String("error", err.Error()))
		return false
	}

	return tok != ""
}

// OAuthURL returns the backend's OAuth entry point for provider.
func (c *SessionClient) OAuthURL(provider string) string {
	if provider == "" {
		provider = DefaultProvider
	}

	return c.t.URL("/auth/oauth/" + url.PathEscape(provider))
}

// InitiateOAuth sends the user to the backend's OAuth entry point. The
// backend's redirect chain ends at the client's callback route, which then
// calls HandleCallback.
func (c *SessionClient) InitiateOAuth(provider string) error {
	target := c.OAuthURL(provider)
	c.logger.Info("starting oauth sign-in", slog.String("url", target))

	return c.navigate(target)
}

// HandleCallback exchanges an authorization code and state for a session
// and persists it.
func (c *SessionClient) HandleCallback(ctx context.Context, code, state, provider string) (*AuthResponse, error) {
	if provider == "" {
		provider = DefaultProvider
	}

	if code == "" {
		return nil, &APIError{Message: "missing authorization code", Err: ErrAuthenticationFailed}
	}

	q := url.Values{}
	q.Set("code", code)
	q.Set("state", state)

	var out AuthResponse

	err := c.t.sendJSON(ctx, call{
		method:   http.MethodGet,
		path:     "/auth/oauth/" + url.PathEscape(provider) + "/callback?" + q.Encode(),
		sentinel: ErrAuthenticationFailed,
		fallback: msgAuthenticate,
	}, &out)
	if err != nil {
		return nil, err
	}

	sess := tokenstore.Session{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if !sess.Complete() {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response is missing tokens", Err: ErrAuthenticationFailed}
	}

	if err := c.store.SetSession(sess); err != nil {
		return nil, fmt.Errorf("backend: saving session: %w", err)
	}

	c.logger.Info("signed in", slog.String("provider", provider), slog.String("user_id", out.User.ID))

	return &out, nil
}

// ValidateToken asks the backend whether token is valid and returns its
// claims.
func (c *SessionClient) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	var out struct {
		Claims Claims `json:"claims"`
	}

	err := c.t.sendJSON(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/validate",
		prepare:  bearer(token),
		sentinel: ErrInvalidToken,
		fallback: msgInvalidToken,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out.Claims, nil
}

// RefreshToken rotates the token pair and persists the new one.
func (c *SessionClient) RefreshToken(ctx context.Context, refreshToken string) (*tokenstore.Session, error) {
	body, err := jsonBody(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	var out tokenstore.Session

	err = c.t.sendJSON(ctx, call{
		method:      http.MethodPost,
		path:        "/auth/refresh",
		body:        body,
		contentType: "application/json",
		sentinel:    ErrRefreshFailed,
		fallback:    msgRefresh,
	}, &out)
	if err != nil {
		return nil, err
	}

	if !out.Complete() {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response is missing tokens", Err: ErrRefreshFailed}
	}

	if err := c.store.SetSession(out); err != nil {
		return nil, fmt.Errorf("backend: saving refreshed session: %w", err)
	}

	c.logger.Debug("session refreshed")

	return &out, nil
}

// Logout revokes refreshToken on the backend and clears the local session.
// The local session is cleared whatever the backend says, including when it
// is unreachable; the returned error only reports what happened remotely.
func (c *SessionClient) Logout(ctx context.Context, refreshToken string) (err error) {
	defer func() {
		if clearErr := c.store.ClearSession(); clearErr != nil {
			err = errors.Join(err, clearErr)
		}
	}()

	if refreshToken == "" {
		c.logger.Debug("no refresh token, skipping backend logout")
		return nil
	}

	body, err := jsonBody(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return err
	}

	resp, err := c.t.send(ctx, call{
		method:      http.MethodPost,
		path:        "/auth/logout",
		body:        body,
		contentType: "application/json",
		sentinel:    ErrRequestFailed,
		fallback:    msgLogout,
	})
	if err != nil {
		c.logger.Warn("backend logout failed, clearing local session anyway", slog.String("error", err.Error()))
		return err
	}

	resp.Body.Close()
	c.logger.Info("signed out")

	return nil
}

// HardLogout clears the local session and sends the user to sign in. It is
// the terminal step when the session cannot be recovered.
func (c *SessionClient) HardLogout() error {
	clearErr := c.store.ClearSession()
	if clearErr != nil {
		c.logger.Error("clearing session during hard logout", slog.String("error", clearErr.Error()))
	}

	c.logger.Warn("session could not be recovered, signing out")

	return errors.Join(clearErr, c.navigate(c.signInRoute))
}

// EnsureValidToken returns an access token the backend currently accepts.
// It validates the stored token once and, if that fails, refreshes once.
// When the refresh also fails it hard-logs-out and returns
// ErrSessionExpired. A network error counts as a failure at either step:
// the client cannot tell an unreachable backend from a rejected token.
// Concurrent calls are not coordinated.
func (c *SessionClient) EnsureValidToken(ctx context.Context) (string, error) {
	sess, err := c.store.Session()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if !sess.Complete() {
		return "", ErrUnauthenticated
	}

	_, err = c.ValidateToken(ctx, sess.AccessToken)
	if err == nil {
		return sess.AccessToken, nil
	}

	c.logger.Debug("access token rejected, refreshing", slog.String("error", err.Error()))

	refreshed, err := c.RefreshToken(ctx, sess.RefreshToken)
	if err == nil {
		return refreshed.AccessToken, nil
	}

	c.logger.Warn("token refresh failed", slog.String("error", err.Error()))

	if hlErr := c.HardLogout(); hlErr != nil {
		c.logger.Warn("hard logout incomplete", slog.String("error", hlErr.Error()))
	}

	return "", fmt.Errorf("%w: %s", ErrSessionExpired, msgRefreshFailedFinal)
}

// CurrentUserID validates the stored access token and returns its user id.
// It does not refresh.
func (c *SessionClient) CurrentUserID(ctx context.Context) (string, error) {
	tok, err := c.store.AccessToken()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if tok == "" {
		return "", ErrUnauthenticated
	}

	claims, err := c.ValidateToken(ctx, tok)
	if err != nil {
		return "", err
	}

	return claims.UserID, nil
}

// TokenSource adapts EnsureValidToken to oauth2.TokenSource. Every Token
// call runs the full validate/refresh protocol against ctx.
func (c *SessionClient) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, c: c}
}

type sessionTokenSource struct {
	ctx context.Context
	c   *SessionClient
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.c.EnsureValidToken(s.ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

func (c *SessionClient) navigate(target string) error {
	if c.nav == nil {
		c.logger.Info("navigation requested", slog.String("target", target))
		return nil
	}

	if err := c.nav.Navigate(target); err != nil {
		return fmt.Errorf("backend: navigating to %s: %w", target, err)
	}

	return nil
}

// bearer returns a prepare func that sets the session bearer header.
func bearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
}
