package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cthulhu/internal/backend/backendtest"
)

func uploadFiles(contents map[string]string) []UploadFile {
	files := make([]UploadFile, 0, len(contents))
	for name, body := range contents {
		files = append(files, UploadFile{Name: name, Content: strings.NewReader(body)})
	}

	return files
}

func TestUploadFiles_Anonymous(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a.txt": "hello"}), "")
	require.NoError(t, err)

	require.NotEmpty(t, res.StorageID)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "/files/s/"+res.StorageID, res.URL)
	assert.Equal(t, int64(5), res.TotalSize)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "a.txt", res.Files[0].OriginalName)

	calls := env.srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, backendtest.RouteUpload, calls[0].Pattern)
	assert.Empty(t, calls[0].Auth)
	assert.Empty(t, env.srv.BucketOwner(res.StorageID))
	assert.Empty(t, env.srv.BucketPassword(res.StorageID))
}

func TestUploadFiles_Authenticated(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signIn(t, aliceID)

	res, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a.txt": "hello"}), "")
	require.NoError(t, err)

	assert.Equal(t, []string{backendtest.RouteValidate, backendtest.RouteUpload}, env.srv.Patterns())
	assert.Equal(t, "Bearer "+sess.AccessToken, env.srv.Calls()[1].Auth)
	assert.Equal(t, aliceID, env.srv.BucketOwner(res.StorageID))
}

func TestUploadFiles_RefreshesBeforeUpload(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)
	env.srv.Advance(time.Hour)

	res, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a.txt": "x"}), "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		backendtest.RouteValidate,
		backendtest.RouteRefresh,
		backendtest.RouteUpload,
	}, env.srv.Patterns())
	assert.Equal(t, aliceID, env.srv.BucketOwner(res.StorageID))
}

func TestUploadFiles_UnrecoverableSessionAbortsUpload(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)
	env.srv.Advance(time.Hour)
	env.srv.FailRefresh(true)

	_, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a.txt": "x"}), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, "Authentication failed - please sign in again", Message(err))

	assert.Zero(t, env.srv.Count(backendtest.RouteUpload), "must not fall back to anonymous upload")
	assert.Equal(t, []string{DefaultSignInRoute}, env.nav.Targets())
}

func TestUploadFiles_Password(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a.txt": "x"}), "s3cret")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", env.srv.BucketPassword(res.StorageID))

	st, err := env.buckets.CheckBucketProtected(context.Background(), res.StorageID)
	require.NoError(t, err)
	assert.True(t, st.Protected)
}

func TestUploadFiles_NormalizesNames(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.resources.UploadFiles(context.Background(), []UploadFile{
		{Name: "dir/cafe\u0301.txt", Content: strings.NewReader("x")},
	}, "")
	require.NoError(t, err)

	require.Len(t, res.Files, 1)
	assert.Equal(t, "caf\u00e9.txt", res.Files[0].OriginalName)
}

func TestUploadFiles_NoFiles(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.resources.UploadFiles(context.Background(), nil, "")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Empty(t, env.srv.Calls())
}

func TestUploadFiles_ServerRejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "error status with message", status: http.StatusRequestEntityTooLarge, body: `{"success":false,"error":"Quota exceeded"}`, wantMsg: "Quota exceeded"},
		{name: "error status without body", status: http.StatusInternalServerError, body: ``, wantMsg: "Upload failed"},
		{name: "ok status but unsuccessful", status: http.StatusOK, body: `{"transaction_id":"t","success":false,"error":"Virus detected"}`, wantMsg: "Virus detected"},
		{name: "ok status unsuccessful without message", status: http.StatusOK, body: `{"success":false}`, wantMsg: "Upload failed"},
		{name: "ok status garbage", status: http.StatusOK, body: `not json`, wantMsg: "Upload failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			env := newTestEnvFor(t, nil, srv.URL)

			_, err := env.resources.UploadFiles(context.Background(), uploadFiles(map[string]string{"a": "b"}), "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRequestFailed)
			assert.Equal(t, tt.wantMsg, Message(err))
		})
	}
}

func TestUploadFiles_ReaderFailure(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.resources.UploadFiles(context.Background(), []UploadFile{
		{Name: "a.txt", Content: io.MultiReader(strings.NewReader("x"), failingReader{})},
	}, "")
	assert.ErrorIs(t, err, ErrRequestFailed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "caf\u00e9.txt", NormalizeName("cafe\u0301.txt"))
	assert.Equal(t, "b.txt", NormalizeName("a/b.txt"))
	assert.Equal(t, "plain", NormalizeName("plain"))
}
