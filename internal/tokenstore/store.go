// Package tokenstore persists the client's credentials: the session token
// pair, per-bucket access tokens, and the sign-in return route. Values live
// in an origin-scoped key/value Backend that survives restarts and is shared
// by every process of the same user. Store is the only type the rest of the
// client should touch; it keeps the session pair consistent and announces
// session changes on the auth event bus.
package tokenstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tonimelisma/cthulhu/internal/authevents"
)

// Fixed storage keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyReturnURL    = "oauth_return_url"

	bucketKeyPrefix = "bucket_token_"
)

// ErrPartialSession is returned when asked to persist a session with one of
// its two tokens missing.
var ErrPartialSession = errors.New("tokenstore: refusing to save partial session")

// Session is the access/refresh token pair issued by the backend.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present.
func (s Session) Complete() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// Backend is an origin-scoped key/value store. Implementations must apply
// SetMany and ClearMany atomically: readers see all of the keys change or
// none of them.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	SetMany(values map[string]string) error
	ClearMany(keys ...string) error
	Keys() ([]string, error)
	// Path is the file that changes when the store is written. Watch uses it.
	Path() string
	Close() error
}

// BucketKey returns the storage key for the access token of one bucket.
func BucketKey(bucketID string) string {
	return bucketKeyPrefix + bucketID
}

// Store is the access-controlled view over a Backend.
type Store struct {
	backend Backend
	bus     *authevents.Bus
	logger  *slog.Logger
}

// New wraps backend. bus may be nil when nobody listens for auth changes.
func New(backend Backend, bus *authevents.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{backend: backend, bus: bus, logger: logger}
}

// Backend returns the underlying key/value backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get returns the raw value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	v, ok, err := s.backend.Get(key)
	if err != nil {
		return "", false, fmt.Errorf("tokenstore: reading %s: %w", key, err)
	}

	return v, ok, nil
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Store) AccessToken() (string, error) {
	v, _, err := s.Get(KeyAccessToken)
	return v, err
}

// RefreshToken returns the stored refresh token, or "" when absent.
func (s *Store) RefreshToken() (string, error) {
	v, _, err := s.Get(KeyRefreshToken)
	return v, err
}

// Session returns whatever tokens are stored. The result may be partial if
// the store was edited by hand; callers check Complete.
func (s *Store) Session() (Session, error) {
	access, err := s.AccessToken()
	if err != nil {
		return Session{}, err
	}

	refresh, err := s.RefreshToken()
	if err != nil {
		return Session{}, err
	}

	return Session{AccessToken: access, RefreshToken: refresh}, nil
}

// SetSession writes both tokens in one backend operation, then notifies the
// auth event bus. Subscribers observe the new pair when they read the store.
func (s *Store) SetSession(sess Session) error {
	if !sess.Complete() {
		return ErrPartialSession
	}

	if err := s.backend.SetMany(map[string]string{
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
	}); err != nil {
		return fmt.Errorf("tokenstore: saving session: %w", err)
	}

	s.logger.Debug("session tokens saved")
	s.notify()

	return nil
}

// ClearSession removes both tokens, then notifies the auth event bus.
func (s *Store) ClearSession() error {
	if err := s.backend.ClearMany(KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("tokenstore: clearing session: %w", err)
	}

	s.logger.Debug("session tokens cleared")
	s.notify()

	return nil
}

// notify publishes on the bus. A failing subscriber does not undo the write
// that preceded it, so the error is logged rather than returned.
func (s *Store) notify() {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(); err != nil {
		s.logger.Warn("auth state subscriber failed", slog.String("error", err.Error()))
	}
}

// BucketToken returns the access token stored for bucketID, or "".
func (s *Store) BucketToken(bucketID string) (string, error) {
	v, _, err := s.Get(BucketKey(bucketID))
	return v, err
}

// SetBucketToken stores the access token for one bucket.
func (s *Store) SetBucketToken(bucketID, token string) error {
	if bucketID == "" || token == "" {
		return fmt.Errorf("tokenstore: bucket id and token are required")
	}

	if err := s.backend.SetMany(map[string]string{BucketKey(bucketID): token}); err != nil {
		return fmt.Errorf("tokenstore: saving token for bucket %s: %w", bucketID, err)
	}

	return nil
}

// ClearBucketToken removes the token for one bucket. Other buckets are not
// affected.
func (s *Store) ClearBucketToken(bucketID string) error {
	if err := s.backend.ClearMany(BucketKey(bucketID)); err != nil {
		return fmt.Errorf("tokenstore: clearing token for bucket %s: %w", bucketID, err)
	}

	return nil
}

// BucketIDs lists the buckets that have a stored token, sorted.
func (s *Store) BucketIDs() ([]string, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return nil, fmt.Errorf("tokenstore: listing keys: %w", err)
	}

	var ids []string

	for _, k := range keys {
		if id, ok := strings.CutPrefix(k, bucketKeyPrefix); ok && id != "" {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// SetReturnURL remembers the route to come back to after sign-in.
func (s *Store) SetReturnURL(route string) error {
	if err := s.backend.SetMany(map[string]string{KeyReturnURL: route}); err != nil {
		return fmt.Errorf("tokenstore: saving return url: %w", err)
	}

	return nil
}

// TakeReturnURL returns the remembered route and removes it.
func (s *Store) TakeReturnURL() (string, error) {
	v, ok, err := s.Get(KeyReturnURL)
	if err != nil || !ok {
		return "", err
	}

	if err := s.backend.ClearMany(KeyReturnURL); err != nil {
		return "", fmt.Errorf("tokenstore: clearing return url: %w", err)
	}

	return v, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
