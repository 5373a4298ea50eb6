package backend

import (
	"context"
	"log/slog"
	"net/http"
)

// ResourceClient performs the bucket resource calls: upload, listing,
// download and the admin list. Bucket tokens are attached from the store
// when present; the session bearer is attached only to uploads.
type ResourceClient struct {
	t       *Transport
	session *SessionClient
	buckets *BucketClient
	logger  *slog.Logger
}

// NewResourceClient creates a ResourceClient.
func NewResourceClient(t *Transport, session *SessionClient, buckets *BucketClient, logger *slog.Logger) *ResourceClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &ResourceClient{t: t, session: session, buckets: buckets, logger: logger}
}

// bucketHeader resolves the X-Bucket-Access header for bucketID. A store
// read failure is logged and the request goes out unauthenticated.
func (c *ResourceClient) bucketHeader(bucketID string) func(*http.Request) {
	tok, err := c.buckets.BucketToken(bucketID)
	if err != nil {
		c.logger.Warn("reading bucket token", slog.String("bucket_id", bucketID), slog.String("error", err.Error()))
	}

	return bucketAccess(tok)
}

// FetchBucketFiles lists the files of a bucket.
func (c *ResourceClient) FetchBucketFiles(ctx context.Context, bucketID string) (*BucketMetadata, error) {
	var out BucketMetadata

	err := c.t.sendJSON(ctx, call{
		method:   http.MethodGet,
		path:     bucketPath(bucketID),
		prepare:  c.bucketHeader(bucketID),
		sentinel: ErrRequestFailed,
		fallback: msgFetchFiles,
	}, &out)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("bucket listed",
		slog.String("bucket_id", bucketID),
		slog.Int("files", len(out.Files)),
	)

	return &out, nil
}

// FetchBucketAdmins returns the owner and administrators of a bucket.
func (c *ResourceClient) FetchBucketAdmins(ctx context.Context, bucketID string) (*BucketAdmins, error) {
	var out BucketAdmins

	err := c.t.sendJSON(ctx, call{
		method:   http.MethodGet,
		path:     bucketPath(bucketID) + "/admins",
		prepare:  c.bucketHeader(bucketID),
		sentinel: ErrRequestFailed,
		fallback: msgFetchAdmins,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// IsBucketAdmin reports whether the signed-in user owns or administers
// bucketID. Every failure (no session, rejected token, failed admin lookup)
// yields false. Without a stored access token no request is made.
func (c *ResourceClient) IsBucketAdmin(ctx context.Context, bucketID string) bool {
	if !c.session.IsAuthenticated() {
		return false
	}

	userID, err := c.session.CurrentUserID(ctx)
	if err != nil || userID == "" {
		c.logger.Debug("admin check: no current user", slog.String("bucket_id", bucketID))
		return false
	}

	admins, err := c.FetchBucketAdmins(ctx, bucketID)
	if err != nil {
		c.logger.Debug("admin check: fetching admins failed",
			slog.String("bucket_id", bucketID),
			slog.String("error", err.Error()),
		)

		return false
	}

	if admins.Owner != nil && admins.Owner.UserID == userID {
		return true
	}

	for _, a := range admins.Admins {
		if a.UserID == userID {
			return true
		}
	}

	return false
}
