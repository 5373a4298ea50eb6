package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cthulhu/internal/backend/backendtest"
	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

func TestIsAuthenticated_PresenceOnly(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.session.IsAuthenticated())

	require.NoError(t, env.store.SetSession(tokenstore.Session{AccessToken: "garbage", RefreshToken: "r"}))
	assert.True(t, env.session.IsAuthenticated())
	assert.Empty(t, env.srv.Calls(), "presence check must not hit the backend")
}

func TestInitiateOAuth(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.session.InitiateOAuth(""))
	require.NoError(t, env.session.InitiateOAuth("google"))

	assert.Equal(t, []string{
		env.srv.URL + "/auth/oauth/github",
		env.srv.URL + "/auth/oauth/google",
	}, env.nav.Targets())
}

func TestHandleCallback_PersistsSession(t *testing.T) {
	env := newTestEnv(t)
	env.srv.AddCode("code-1", aliceID)

	resp, err := env.session.HandleCallback(context.Background(), "code-1", "state-1", "")
	require.NoError(t, err)

	assert.Equal(t, aliceID, resp.User.ID)
	assert.Equal(t, "alice@example.com", resp.User.Email)

	sess := env.storedSession(t)
	assert.Equal(t, resp.AccessToken, sess.AccessToken)
	assert.Equal(t, resp.RefreshToken, sess.RefreshToken)
	assert.Equal(t, 1, env.events)
	assert.Equal(t, []string{backendtest.RouteCallback}, env.srv.Patterns())
}

func TestHandleCallback_InvalidCode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.session.HandleCallback(context.Background(), "nope", "state", "github")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, "Invalid authorization code", Message(err))

	assert.False(t, env.storedSession(t).Complete())
	assert.Zero(t, env.events)
}

func TestHandleCallback_EmptyCodeMakesNoRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.session.HandleCallback(context.Background(), "", "state", "")
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Empty(t, env.srv.Calls())
}

func TestValidateToken_ReturnsClaims(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)

	claims, err := env.session.ValidateToken(context.Background(), sess.AccessToken)
	require.NoError(t, err)

	want := &Claims{UserID: aliceID, Email: "alice@example.com", Provider: "github"}
	if diff := cmp.Diff(want, claims); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}

	calls := env.srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer "+sess.AccessToken, calls[0].Auth)
}

func TestValidateToken_Rejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.session.ValidateToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, "Invalid or expired token", Message(err))
}

func TestRefreshToken_RotatesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	old := env.signIn(t, aliceID)

	got, err := env.session.RefreshToken(context.Background(), old.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, old.RefreshToken, got.RefreshToken)
	assert.Equal(t, *got, env.storedSession(t))
	assert.False(t, env.srv.RefreshTokenValid(old.RefreshToken))
	assert.Equal(t, 1, env.events)
}

func TestRefreshToken_FailureLeavesStoreAlone(t *testing.T) {
	env := newTestEnv(t)
	old := env.signIn(t, aliceID)
	env.srv.FailRefresh(true)

	_, err := env.session.RefreshToken(context.Background(), old.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, "Invalid refresh token", Message(err))

	assert.Equal(t, old, env.storedSession(t))
	assert.Zero(t, env.events)
}

func TestEnsureValidToken_NoSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.session.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, env.srv.Calls())
	assert.Empty(t, env.nav.Targets())
}

func TestEnsureValidToken_ValidTokenSkipsRefresh(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)

	tok, err := env.session.EnsureValidToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sess.AccessToken, tok)
	assert.Equal(t, []string{backendtest.RouteValidate}, env.srv.Patterns())
	assert.Zero(t, env.events)
}

func TestEnsureValidToken_ExpiredTokenIsRefreshed(t *testing.T) {
	env := newTestEnv(t)
	old := env.signIn(t, aliceID)
	env.srv.Advance(time.Hour)

	tok, err := env.session.EnsureValidToken(context.Background())
	require.NoError(t, err)

	sess := env.storedSession(t)
	assert.Equal(t, sess.AccessToken, tok)
	assert.NotEqual(t, old.AccessToken, sess.AccessToken)
	assert.NotEqual(t, old.RefreshToken, sess.RefreshToken)

	assert.Equal(t, []string{backendtest.RouteValidate, backendtest.RouteRefresh}, env.srv.Patterns())
	assert.Equal(t, 1, env.events)
	assert.Empty(t, env.nav.Targets())

	// The new pair validates without another refresh.
	env.srv.ResetCalls()
	_, err = env.session.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{backendtest.RouteValidate}, env.srv.Patterns())
}

func TestEnsureValidToken_RefreshFailureHardLogsOut(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)
	env.srv.Advance(time.Hour)
	env.srv.FailRefresh(true)

	_, err := env.session.EnsureValidToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Contains(t, err.Error(), "Token refresh failed - user logged out")

	assert.Equal(t, []string{backendtest.RouteValidate, backendtest.RouteRefresh}, env.srv.Patterns(),
		"exactly one validate and one refresh")
	assert.False(t, env.session.IsAuthenticated())
	assert.Equal(t, tokenstore.Session{}, env.storedSession(t))
	assert.Equal(t, []string{DefaultSignInRoute}, env.nav.Targets())
	assert.Equal(t, 1, env.events)
}

func TestEnsureValidToken_NetworkFailureCountsAsRejection(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)
	env.srv.Close()

	_, err := env.session.EnsureValidToken(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, env.session.IsAuthenticated())
	assert.Equal(t, []string{DefaultSignInRoute}, env.nav.Targets())
}

func TestEnsureValidToken_PreservesBucketTokens(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)
	require.NoError(t, env.store.SetBucketToken("b1", "bt1"))
	env.srv.Advance(time.Hour)
	env.srv.FailRefresh(true)

	_, err := env.session.EnsureValidToken(context.Background())
	require.Error(t, err)

	tok, err := env.store.BucketToken("b1")
	require.NoError(t, err)
	assert.Equal(t, "bt1", tok)
}

func TestLogout_RevokesAndClears(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)

	require.NoError(t, env.session.Logout(context.Background(), sess.RefreshToken))

	assert.False(t, env.session.IsAuthenticated())
	assert.False(t, env.srv.RefreshTokenValid(sess.RefreshToken))
	assert.Equal(t, []string{backendtest.RouteLogout}, env.srv.Patterns())
	assert.Equal(t, 1, env.events)
}

func TestLogout_ClearsOnServerError(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)
	env.srv.FailLogout(true)

	err := env.session.Logout(context.Background(), sess.RefreshToken)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, "Logout unavailable", Message(err))
	assert.Equal(t, tokenstore.Session{}, env.storedSession(t))
}

func TestLogout_ClearsWhenBackendUnreachable(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)
	env.srv.Close()

	err := env.session.Logout(context.Background(), sess.RefreshToken)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.StatusCode)
	assert.Equal(t, tokenstore.Session{}, env.storedSession(t))
}

func TestLogout_WithoutRefreshTokenSkipsBackend(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.session.Logout(context.Background(), ""))
	assert.Empty(t, env.srv.Calls())
}

func TestHardLogout(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)

	require.NoError(t, env.session.HardLogout())

	assert.False(t, env.session.IsAuthenticated())
	assert.Equal(t, []string{"/signin"}, env.nav.Targets())
	assert.Empty(t, env.srv.Calls())
}

func TestHardLogout_CustomRoute(t *testing.T) {
	env := newTestEnv(t)
	session := NewSessionClient(env.transport, env.store, env.nav, "/login", testLogger(t))

	require.NoError(t, session.HardLogout())
	assert.Equal(t, []string{"/login"}, env.nav.Targets())
}

func TestCurrentUserID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.session.CurrentUserID(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	env.signIn(t, bobID)

	id, err := env.session.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bobID, id)

	env.srv.Advance(time.Hour)
	env.srv.ResetCalls()

	_, err = env.session.CurrentUserID(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Zero(t, env.srv.Count(backendtest.RouteRefresh), "user id lookup never refreshes")
}

func TestTokenSource(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)

	tok, err := env.session.TokenSource(context.Background()).Token()
	require.NoError(t, err)

	assert.Equal(t, sess.AccessToken, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
}

func TestNavigatorFunc(t *testing.T) {
	var got string

	nav := NavigatorFunc(func(target string) error {
		got = target
		return nil
	})

	require.NoError(t, nav.Navigate("/signin"))
	assert.Equal(t, "/signin", got)
}

func TestNilNavigatorOnlyLogs(t *testing.T) {
	env := newTestEnv(t)
	session := NewSessionClient(env.transport, env.store, nil, "", testLogger(t))

	assert.NoError(t, session.HardLogout())
	assert.NoError(t, session.InitiateOAuth(""))
}
