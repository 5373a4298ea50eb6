package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/cthulhu/internal/tokenstore"
)

// BucketClient handles password-protected bucket access and owns the
// bucket-scoped tokens in the store.
type BucketClient struct {
	t       *Transport
	session *SessionClient
	store   *tokenstore.Store
	logger  *slog.Logger
}

// NewBucketClient creates a BucketClient. session may be nil, in which case
// bucket authentication never carries the user's identity.
func NewBucketClient(t *Transport, session *SessionClient, store *tokenstore.Store, logger *slog.Logger) *BucketClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &BucketClient{t: t, session: session, store: store, logger: logger}
}

func bucketPath(bucketID string) string {
	return "/files/s/" + url.PathEscape(bucketID)
}

// CheckBucketProtected reports whether bucketID requires a password. The
// request is unauthenticated.
func (c *BucketClient) CheckBucketProtected(ctx context.Context, bucketID string) (*ProtectionStatus, error) {
	var out ProtectionStatus

	err := c.t.sendJSON(ctx, call{
		method:   http.MethodGet,
		path:     bucketPath(bucketID) + "/protected",
		sentinel: ErrLookupFailed,
		fallback: msgProtection,
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.BucketID == "" {
		out.BucketID = bucketID
	}

	return &out, nil
}

// AuthenticateBucket exchanges a bucket password for a bucket-scoped token.
// When the user has a session its bearer token is attached; if the session
// cannot be made valid the request goes out without it, because bucket
// passwords do not require a user. The caller decides whether to persist the
// token (see SaveBucketToken).
func (c *BucketClient) AuthenticateBucket(ctx context.Context, bucketID, password string) (*BucketAuth, error) {
	body, err := jsonBody(map[string]string{"password": password})
	if err != nil {
		return nil, err
	}

	var prepare func(*http.Request)

	if c.session != nil && c.session.IsAuthenticated() {
		tok, ensureErr := c.session.EnsureValidToken(ctx)
		if ensureErr != nil {
			c.logger.Debug("proceeding with bucket auth without session",
				slog.String("bucket_id", bucketID),
				slog.String("error", ensureErr.Error()),
			)
		} else {
			prepare = bearer(tok)
		}
	}

	var out BucketAuth

	err = c.t.sendJSON(ctx, call{
		method:      http.MethodPost,
		path:        bucketPath(bucketID) + "/authenticate",
		body:        body,
		contentType: "application/json",
		prepare:     prepare,
		sentinel:    ErrBucketAuthFailed,
		fallback:    msgBucketAuth,
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.AccessToken == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response is missing access token", Err: ErrBucketAuthFailed}
	}

	c.logger.Info("bucket unlocked",
		slog.String("bucket_id", bucketID),
		slog.Int64("expires_in", out.ExpiresIn),
	)

	return &out, nil
}

// Unlock authenticates and stores the resulting bucket token.
func (c *BucketClient) Unlock(ctx context.Context, bucketID, password string) (*BucketAuth, error) {
	auth, err := c.AuthenticateBucket(ctx, bucketID, password)
	if err != nil {
		return nil, err
	}

	if err := c.SaveBucketToken(bucketID, auth); err != nil {
		return nil, err
	}

	return auth, nil
}

// BucketToken returns the stored token for bucketID, or "".
func (c *BucketClient) BucketToken(bucketID string) (string, error) {
	tok, err := c.store.BucketToken(bucketID)
	if err != nil {
		return "", fmt.Errorf("backend: reading bucket token: %w", err)
	}

	return tok, nil
}

// SaveBucketToken persists a bucket token under its bucket id.
func (c *BucketClient) SaveBucketToken(bucketID string, auth *BucketAuth) error {
	if err := c.store.SetBucketToken(bucketID, auth.AccessToken); err != nil {
		return fmt.Errorf("backend: saving bucket token: %w", err)
	}

	return nil
}

// ForgetBucketToken removes the token for bucketID only.
func (c *BucketClient) ForgetBucketToken(bucketID string) error {
	if err := c.store.ClearBucketToken(bucketID); err != nil {
		return fmt.Errorf("backend: clearing bucket token: %w", err)
	}

	c.logger.Debug("bucket token cleared", slog.String("bucket_id", bucketID))

	return nil
}
