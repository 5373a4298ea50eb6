package backend

import (
	"io"
	"time"
)

// Claims describes the identity behind a validated access token. The client
// never decodes tokens itself; claims always come from the backend.
type Claims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

// User is the profile returned alongside a fresh session.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AuthResponse is the OAuth callback result.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// FileInfo describes one file in a bucket.
type FileInfo struct {
	OriginalName string `json:"original_name"`
	StringID     string `json:"string_id"`
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	ContentType  string `json:"content_type"`
}

// BucketMetadata is the listing of a bucket.
type BucketMetadata struct {
	StorageID string     `json:"storage_id"`
	Files     []FileInfo `json:"files"`
	TotalSize int64      `json:"total_size"`
}

// AdminInfo describes one administrator of a bucket.
type AdminInfo struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOwner   bool   `json:"is_owner"`
	CreatedAt int64  `json:"created_at"`
}

// Created returns CreatedAt as a time.
func (a AdminInfo) Created() time.Time {
	return time.Unix(a.CreatedAt, 0)
}

// BucketAdmins lists the owner (if any) and administrators of a bucket.
type BucketAdmins struct {
	BucketID string      `json:"bucket_id"`
	Owner    *AdminInfo  `json:"owner"`
	Admins   []AdminInfo `json:"admins"`
}

// ProtectionStatus reports whether a bucket requires a password.
type ProtectionStatus struct {
	BucketID  string `json:"bucket_id,omitempty"`
	Protected bool   `json:"protected"`
}

// BucketAuth is a bucket-scoped access token.
type BucketAuth struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// UploadFile is one file to upload. Name is the file name sent to the
// backend; Content is read to EOF.
type UploadFile struct {
	Name    string
	Content io.Reader
}

// uploadResponse is the raw upload reply.
type uploadResponse struct {
	TransactionID string     `json:"transaction_id"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
	StorageID     string     `json:"storage_id,omitempty"`
	Files         []FileInfo `json:"files,omitempty"`
	TotalSize     int64      `json:"total_size,omitempty"`
}

// UploadResult describes the bucket created (or extended) by an upload.
type UploadResult struct {
	TransactionID string
	StorageID     string
	// URL is the bucket route relative to the backend, e.g. "/files/s/<id>".
	URL       string
	Files     []FileInfo
	TotalSize int64
}
