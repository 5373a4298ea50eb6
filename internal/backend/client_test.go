package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Headers(t *testing.T) {
	env := newTestEnv(t)
	env.transport.newRequestID = func() string { return "req-fixed" }
	env.srv.AddBucket("b", "", "", nil)

	_, err := env.buckets.CheckBucketProtected(context.Background(), "b")
	require.NoError(t, err)

	calls := env.srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "req-fixed", calls[0].RequestID)
	assert.Equal(t, "cthulhu-test", calls[0].UserAgent)
}

func TestTransport_DefaultUserAgent(t *testing.T) {
	tr := NewTransport("http://example.test/", nil, nil, "", nil)

	assert.Equal(t, defaultUserAgent, tr.userAgent)
	assert.Equal(t, "http://example.test", tr.BaseURL())
	assert.Equal(t, "http://example.test/auth/validate", tr.URL("/auth/validate"))
	assert.Same(t, tr.httpClient, tr.transfer)
}

func TestTransport_ErrorCarriesEchoedRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(HeaderRequestID, "server-side-id")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Bucket not found"}`))
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, nil, "", testLogger(t))

	_, err := tr.send(context.Background(), call{
		method:   http.MethodGet,
		path:     "/files/s/x",
		sentinel: ErrRequestFailed,
		fallback: msgFetchFiles,
	})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "server-side-id", apiErr.RequestID)
	assert.Equal(t, "Bucket not found", apiErr.Message)
}

func TestTransport_NeverRetries(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL, nil, nil, "", testLogger(t))

	_, err := tr.send(context.Background(), call{method: http.MethodGet, path: "/", sentinel: ErrRequestFailed, fallback: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTransport_UsesTransferClient(t *testing.T) {
	var metaHits, transferHits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	meta := &http.Client{Transport: countingTransport(&metaHits)}
	transfer := &http.Client{Transport: countingTransport(&transferHits)}
	tr := NewTransport(srv.URL, meta, transfer, "", testLogger(t))

	resp, err := tr.send(context.Background(), call{method: http.MethodGet, path: "/", transfer: true})
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = tr.send(context.Background(), call{method: http.MethodGet, path: "/"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(1), metaHits.Load())
	assert.Equal(t, int32(1), transferHits.Load())
}

func countingTransport(n *atomic.Int32) http.RoundTripper {
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		n.Add(1)
		return http.DefaultTransport.RoundTrip(req)
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestTransport_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, aliceID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.session.ValidateToken(ctx, "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, context.Canceled)
}
