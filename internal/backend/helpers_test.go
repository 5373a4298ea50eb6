package backend

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cthulhu/internal/authevents"
	"github.com/tonimelisma/cthulhu/internal/backend/backendtest"
	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

const (
	aliceID = "u-alice"
	bobID   = "u-bob"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// recordingNav remembers every navigation target.
type recordingNav struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNav) Navigate(target string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.targets = append(n.targets, target)

	return nil
}

func (n *recordingNav) Targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.targets...)
}

// testEnv wires every client against one fake backend and a file-backed
// store in a temp dir.
type testEnv struct {
	srv       *backendtest.Server
	bus       *authevents.Bus
	store     *tokenstore.Store
	nav       *recordingNav
	transport *Transport
	session   *SessionClient
	buckets   *BucketClient
	resources *ResourceClient

	// events counts AuthEvents delivered on bus.
	events int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := backendtest.New(t)
	srv.AddUser(backendtest.User{ID: aliceID, Email: "alice@example.com", Username: "alice"})
	srv.AddUser(backendtest.User{ID: bobID, Email: "bob@example.com", Username: "bob"})

	return newTestEnvFor(t, srv, srv.URL)
}

func newTestEnvFor(t *testing.T, srv *backendtest.Server, baseURL string) *testEnv {
	t.Helper()

	logger := testLogger(t)

	origin, err := tokenstore.Origin(baseURL)
	require.NoError(t, err)

	kv, err := tokenstore.Open(tokenstore.KindFile, t.TempDir(), origin, logger)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	env := &testEnv{srv: srv, bus: authevents.New(), nav: &recordingNav{}}
	env.bus.Subscribe(func() error {
		env.events++
		return nil
	})

	env.store = tokenstore.New(kv, env.bus, logger)
	env.transport = NewTransport(baseURL, nil, nil, "cthulhu-test", logger)
	env.session = NewSessionClient(env.transport, env.store, env.nav, "", logger)
	env.buckets = NewBucketClient(env.transport, env.session, env.store, logger)
	env.resources = NewResourceClient(env.transport, env.session, env.buckets, logger)

	return env
}

// signIn stores a freshly issued session for userID and resets counters.
func (e *testEnv) signIn(t *testing.T, userID string) tokenstore.Session {
	t.Helper()

	access, refresh := e.srv.IssueSession(userID)
	sess := tokenstore.Session{AccessToken: access, RefreshToken: refresh}
	require.NoError(t, e.store.SetSession(sess))

	e.events = 0
	e.srv.ResetCalls()

	return sess
}

func (e *testEnv) storedSession(t *testing.T) tokenstore.Session {
	t.Helper()

	sess, err := e.store.Session()
	require.NoError(t, err)

	return sess
}
