// Package backend is the HTTP client for the file-sharing backend: OAuth
// sign-in and the session token lifecycle, bucket password access, and the
// upload/list/download/admins resource calls. Every failure is classified
// with one of the sentinels below; use errors.Is to check.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for failure classification.
var (
	ErrAuthenticationFailed = errors.New("backend: authentication failed")
	ErrInvalidToken         = errors.New("backend: invalid token")
	ErrRefreshFailed        = errors.New("backend: token refresh failed")
	ErrSessionExpired       = errors.New("backend: session expired")
	ErrUnauthenticated      = errors.New("backend: not signed in")
	ErrBucketAuthFailed     = errors.New("backend: bucket authentication failed")
	ErrLookupFailed         = errors.New("backend: lookup failed")
	ErrRequestFailed        = errors.New("backend: request failed")
)

// Fallback messages used when the response body carries no "error" field.
const (
	msgAuthenticate       = "Failed to authenticate"
	msgInvalidToken       = "Invalid token"
	msgRefresh            = "Failed to refresh token"
	msgLogout             = "Failed to log out"
	msgProtection         = "Failed to check bucket protection"
	msgBucketAuth         = "Failed to authenticate bucket"
	msgUpload             = "Upload failed"
	msgUploadAuth         = "Authentication failed - please sign in again"
	msgFetchFiles         = "Failed to fetch files"
	msgFetchAdmins        = "Failed to fetch admins"
	msgDownload           = "Failed to download file"
	msgRefreshFailedFinal = "Token refresh failed - user logged out"
)

// APIError carries the classified failure of one backend call. StatusCode is
// zero when the request never produced a response (network error); Cause then
// holds the transport error.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
	Cause      error
}

func (e *APIError) Error() string {
	var b strings.Builder

	b.WriteString(e.Err.Error())

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)

		if e.RequestID != "" {
			fmt.Fprintf(&b, " (request-id: %s)", e.RequestID)
		}
	}

	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	return b.String()
}

func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

// Message returns the human-readable message of err: the backend's "error"
// text for an APIError, err.Error() otherwise.
func Message(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}

	return err.Error()
}

// errorMessage extracts the "error" field from a response body. Anything
// unreadable resolves to fallback; reporting an error never fails.
func errorMessage(body []byte, fallback string) string {
	var parsed struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Error == "" {
		return fallback
	}

	return parsed.Error
}
