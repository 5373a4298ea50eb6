package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"

	"golang.org/x/text/unicode/norm"
)

// Multipart field names of the upload form.
const (
	formFieldFiles    = "files"
	formFieldPassword = "password"
)

// NormalizeName returns the NFC form of a file name's last element, the
// form the backend stores and serves names in.
func NormalizeName(name string) string {
	return norm.NFC.String(path.Base(name))
}

// UploadFiles uploads files as a new bucket, optionally protected by
// password. When the user has a session the upload carries their identity;
// if the session cannot be made valid the upload is aborted rather than
// silently sent anonymously. Without a session the upload is anonymous.
func (c *ResourceClient) UploadFiles(ctx context.Context, files []UploadFile, password string) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, &APIError{Message: "no files to upload", Err: ErrRequestFailed}
	}

	var prepare func(*http.Request)

	if c.session.IsAuthenticated() {
		tok, err := c.session.TokenSource(ctx).Token()
		if err != nil {
			return nil, &APIError{Message: msgUploadAuth, Err: ErrAuthenticationFailed, Cause: err}
		}

		prepare = tok.SetAuthHeader
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, files, password))
	}()

	c.logger.Info("uploading files",
		slog.Int("count", len(files)),
		slog.Bool("authenticated", prepare != nil),
		slog.Bool("password", password != ""),
	)

	resp, err := c.t.send(ctx, call{
		method:      http.MethodPost,
		path:        "/files/upload",
		body:        pr,
		contentType: mw.FormDataContentType(),
		prepare:     prepare,
		transfer:    true,
		sentinel:    ErrRequestFailed,
		fallback:    msgUpload,
	})
	// Unblocks the form writer if the request ended before consuming it.
	pr.Close()

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    msgUpload,
			Err:        ErrRequestFailed,
			Cause:      fmt.Errorf("decoding upload response: %w", decErr),
		}
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = msgUpload
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg, Err: ErrRequestFailed}
	}

	result := &UploadResult{
		TransactionID: out.TransactionID,
		StorageID:     out.StorageID,
		Files:         out.Files,
		TotalSize:     out.TotalSize,
	}

	if out.StorageID != "" {
		result.URL = bucketPath(out.StorageID)
	}

	c.logger.Info("upload complete",
		slog.String("storage_id", out.StorageID),
		slog.Int64("total_size", out.TotalSize),
	)

	return result, nil
}

// writeUploadForm streams the multipart form: one "files" part per file,
// then the optional password field.
func writeUploadForm(mw *multipart.Writer, files []UploadFile, password string) error {
	for _, f := range files {
		part, err := mw.CreateFormFile(formFieldFiles, NormalizeName(f.Name))
		if err != nil {
			return fmt.Errorf("backend: creating form part for %s: %w", f.Name, err)
		}

		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("backend: reading %s: %w", f.Name, err)
		}
	}

	if password != "" {
		if err := mw.WriteField(formFieldPassword, password); err != nil {
			return fmt.Errorf("backend: writing password field: %w", err)
		}
	}

	return mw.Close()
}
