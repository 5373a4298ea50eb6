package bucketview

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cthulhu/internal/authevents"
	"github.com/tonimelisma/cthulhu/internal/backend"
	"github.com/tonimelisma/cthulhu/internal/backend/backendtest"
	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

const ownerID = "u-owner"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fixture struct {
	srv       *backendtest.Server
	store     *tokenstore.Store
	session   *backend.SessionClient
	buckets   *backend.BucketClient
	resources *backend.ResourceClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := testLogger(t)

	srv := backendtest.New(t)
	srv.AddUser(backendtest.User{ID: ownerID, Email: "owner@example.com"})

	origin, err := tokenstore.Origin(srv.URL)
	require.NoError(t, err)

	kv, err := tokenstore.Open(tokenstore.KindFile, t.TempDir(), origin, logger)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := tokenstore.New(kv, authevents.New(), logger)
	tr := backend.NewTransport(srv.URL, nil, nil, "", logger)
	session := backend.NewSessionClient(tr, store, nil, "", logger)
	buckets := backend.NewBucketClient(tr, session, store, logger)

	return &fixture{
		srv:       srv,
		store:     store,
		session:   session,
		buckets:   buckets,
		resources: backend.NewResourceClient(tr, session, buckets, logger),
	}
}

func (f *fixture) view(t *testing.T, p Prompter) *View {
	t.Helper()

	return New(f.buckets, f.resources, p, 0, testLogger(t))
}

// scriptedPrompter answers with passwords in order and records each prompt.
type scriptedPrompter struct {
	answers  []string
	attempts []int
	lastErrs []error
}

func (p *scriptedPrompter) Password(_ context.Context, _ string, attempt int, lastErr error) (string, error) {
	p.attempts = append(p.attempts, attempt)
	p.lastErrs = append(p.lastErrs, lastErr)

	if len(p.answers) == 0 {
		return "", errors.New("no more answers")
	}

	a := p.answers[0]
	p.answers = p.answers[1:]

	return a, nil
}

func TestOpen_UnprotectedNeverPrompts(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("open", "", "", map[string]string{"a.txt": "a"})

	p := &scriptedPrompter{}

	st, err := f.view(t, p).Open(context.Background(), "open")
	require.NoError(t, err)

	assert.False(t, st.Protected)
	assert.False(t, st.Unlocked)
	assert.False(t, st.IsAdmin)
	require.NotNil(t, st.Metadata)
	assert.Len(t, st.Metadata.Files, 1)
	assert.Empty(t, p.attempts)
}

func TestOpen_ProtectedPromptsAndStoresToken(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", map[string]string{"a.txt": "a"})

	p := &scriptedPrompter{answers: []string{"pw"}}

	st, err := f.view(t, p).Open(context.Background(), "locked")
	require.NoError(t, err)

	assert.True(t, st.Protected)
	assert.True(t, st.Unlocked)
	assert.Equal(t, []int{1}, p.attempts)

	tok, err := f.store.BucketToken("locked")
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
}

func TestOpen_StoredTokenSkipsPrompt(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", map[string]string{"a.txt": "a"})

	_, err := f.buckets.Unlock(context.Background(), "locked", "pw")
	require.NoError(t, err)

	f.srv.ResetCalls()

	p := &scriptedPrompter{}

	st, err := f.view(t, p).Open(context.Background(), "locked")
	require.NoError(t, err)

	assert.False(t, st.Unlocked)
	assert.Empty(t, p.attempts)
	assert.Zero(t, f.srv.Count(backendtest.RouteAuthenticate))
}

func TestOpen_StaleTokenIsClearedAndReprompted(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("b1", "one", "", map[string]string{"a": "a"})
	f.srv.AddBucket("b2", "two", "", map[string]string{"b": "b"})

	_, err := f.buckets.Unlock(context.Background(), "b1", "one")
	require.NoError(t, err)
	_, err = f.buckets.Unlock(context.Background(), "b2", "two")
	require.NoError(t, err)

	otherTok, err := f.store.BucketToken("b2")
	require.NoError(t, err)

	f.srv.RevokeBucketTokens("b1")

	p := &scriptedPrompter{answers: []string{"one"}}

	st, err := f.view(t, p).Open(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, st.Unlocked)

	require.Len(t, p.lastErrs, 1)
	assert.ErrorIs(t, p.lastErrs[0], backend.ErrRequestFailed, "prompt explains the stale token")

	after, err := f.store.BucketToken("b2")
	require.NoError(t, err)
	assert.Equal(t, otherTok, after, "other buckets are untouched")
}

func TestOpen_WrongPasswordRepromptsThenGivesUp(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", nil)

	p := &scriptedPrompter{answers: []string{"a", "b", "c", "pw"}}

	_, err := f.view(t, p).Open(context.Background(), "locked")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.ErrorIs(t, err, backend.ErrBucketAuthFailed)

	assert.Equal(t, []int{1, 2, 3}, p.attempts)
	assert.Nil(t, p.lastErrs[0])
	assert.ErrorIs(t, p.lastErrs[1], backend.ErrBucketAuthFailed)

	tok, err := f.store.BucketToken("locked")
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestOpen_SecondAttemptSucceeds(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", nil)

	p := &scriptedPrompter{answers: []string{"wrong", "pw"}}

	v := New(f.buckets, f.resources, p, 5, testLogger(t))

	st, err := v.Open(context.Background(), "locked")
	require.NoError(t, err)
	assert.True(t, st.Unlocked)
	assert.Equal(t, []int{1, 2}, p.attempts)
}

func TestOpen_NoPrompter(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", nil)

	_, err := f.view(t, nil).Open(context.Background(), "locked")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestOpen_PrompterError(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", "", nil)

	canceled := errors.New("canceled by user")
	p := PrompterFunc(func(context.Context, string, int, error) (string, error) {
		return "", canceled
	})

	_, err := f.view(t, p).Open(context.Background(), "locked")
	assert.ErrorIs(t, err, canceled)
}

func TestOpen_UnknownBucket(t *testing.T) {
	f := newFixture(t)

	_, err := f.view(t, nil).Open(context.Background(), "missing")
	assert.ErrorIs(t, err, backend.ErrLookupFailed)
}

func TestOpen_ResolvesAdmin(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("mine", "", ownerID, map[string]string{"a": "a"})

	access, refresh := f.srv.IssueSession(ownerID)
	require.NoError(t, f.store.SetSession(tokenstore.Session{AccessToken: access, RefreshToken: refresh}))

	st, err := f.view(t, nil).Open(context.Background(), "mine")
	require.NoError(t, err)
	assert.True(t, st.IsAdmin)
}

func TestOpen_AdminFailureDoesNotFailOpen(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("open", "", ownerID, map[string]string{"a": "a"})

	access, refresh := f.srv.IssueSession(ownerID)
	require.NoError(t, f.store.SetSession(tokenstore.Session{AccessToken: access, RefreshToken: refresh}))
	f.srv.Advance(time.Hour)

	st, err := f.view(t, nil).Open(context.Background(), "open")
	require.NoError(t, err)
	assert.False(t, st.IsAdmin)
	assert.NotNil(t, st.Metadata)
}

func TestOpen_ProtectedResolvesAdminAfterUnlock(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", ownerID, map[string]string{"a": "a"})

	access, refresh := f.srv.IssueSession(ownerID)
	require.NoError(t, f.store.SetSession(tokenstore.Session{AccessToken: access, RefreshToken: refresh}))

	p := &scriptedPrompter{answers: []string{"pw"}}

	st, err := f.view(t, p).Open(context.Background(), "locked")
	require.NoError(t, err)
	assert.True(t, st.Unlocked)
	assert.True(t, st.IsAdmin, "the owner is an admin once the bucket is unlocked")
}

func TestOpen_ProtectedResolvesAdminWithStoredToken(t *testing.T) {
	f := newFixture(t)
	f.srv.AddBucket("locked", "pw", ownerID, map[string]string{"a": "a"})

	access, refresh := f.srv.IssueSession(ownerID)
	require.NoError(t, f.store.SetSession(tokenstore.Session{AccessToken: access, RefreshToken: refresh}))

	_, err := f.buckets.Unlock(context.Background(), "locked", "pw")
	require.NoError(t, err)

	st, err := f.view(t, nil).Open(context.Background(), "locked")
	require.NoError(t, err)
	assert.False(t, st.Unlocked)
	assert.True(t, st.IsAdmin)
}

func TestOpen_ProtectedNotAdminForOtherUser(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser(backendtest.User{ID: "u-other", Email: "other@example.com"})
	f.srv.AddBucket("locked", "pw", ownerID, map[string]string{"a": "a"})

	access, refresh := f.srv.IssueSession("u-other")
	require.NoError(t, f.store.SetSession(tokenstore.Session{AccessToken: access, RefreshToken: refresh}))

	p := &scriptedPrompter{answers: []string{"pw"}}

	st, err := f.view(t, p).Open(context.Background(), "locked")
	require.NoError(t, err)
	assert.False(t, st.IsAdmin)
}
