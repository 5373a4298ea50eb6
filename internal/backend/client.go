package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header names used on backend requests.
const (
	HeaderBucketAccess = "X-Bucket-Access"
	HeaderRequestID    = "X-Request-ID"
)

// defaultUserAgent identifies the client when the caller sets none.
const defaultUserAgent = "cthulhu/dev"

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 * 1024

// Transport sends requests to one backend. It owns two HTTP clients: a
// metadata client (usually with a timeout) and a transfer client for
// uploads and downloads, which must not time out mid-stream. No request is
// ever retried.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	transfer   *http.Client
	userAgent  string
	logger     *slog.Logger

	// newRequestID is injectable for deterministic tests.
	newRequestID func() string
}

// NewTransport creates a Transport for baseURL (e.g. "http://localhost:7777").
// A nil transfer client falls back to httpClient.
func NewTransport(baseURL string, httpClient, transfer *http.Client, userAgent string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if transfer == nil {
		transfer = httpClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Transport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		transfer:     transfer,
		userAgent:    userAgent,
		logger:       logger,
		newRequestID: uuid.NewString,
	}
}

// BaseURL returns the backend base URL without a trailing slash.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// URL returns the absolute URL of path.
func (t *Transport) URL(path string) string {
	return t.baseURL + path
}

// call describes one backend request and how its failure is classified.
type call struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	prepare     func(*http.Request) // sets auth headers
	transfer    bool

	sentinel error
	fallback string
}

// send executes c. On a 2xx response the caller owns resp.Body. Any other
// outcome is returned as an *APIError wrapping c.sentinel.
func (t *Transport) send(ctx context.Context, c call) (*http.Response, error) {
	reqID := t.newRequestID()

	body := c.body
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, c.method, t.URL(c.path), body)
	if err != nil {
		return nil, &APIError{RequestID: reqID, Message: c.fallback, Err: c.sentinel, Cause: err}
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set(HeaderRequestID, reqID)
	req.Header.Set("Accept", "application/json")

	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}

	if c.prepare != nil {
		c.prepare(req)
	}

	client := t.httpClient
	if c.transfer {
		client = t.transfer
	}

	resp, err := client.Do(req)
	if err != nil {
		t.logger.Warn("request failed",
			slog.String("method", c.method),
			slog.String("path", c.path),
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)

		return nil, &APIError{RequestID: reqID, Message: c.fallback, Err: c.sentinel, Cause: err}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		t.logger.Debug("request succeeded",
			slog.String("method", c.method),
			slog.String("path", c.path),
			slog.Int("status", resp.StatusCode),
			slog.String("request_id", reqID),
		)

		return resp, nil
	}

	// A body that cannot be read simply yields the fallback message.
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if echoed := resp.Header.Get(HeaderRequestID); echoed != "" {
		reqID = echoed
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    errorMessage(errBody, c.fallback),
		Err:        c.sentinel,
	}

	t.logger.Debug("request rejected",
		slog.String("method", c.method),
		slog.String("path", c.path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
		slog.String("message", apiErr.Message),
	)

	return nil, apiErr
}

// sendJSON executes c and decodes a 2xx JSON body into out.
func (t *Transport) sendJSON(ctx context.Context, c call, out any) error {
	resp, err := t.send(ctx, c)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Request.Header.Get(HeaderRequestID),
			Message:    c.fallback,
			Err:        c.sentinel,
			Cause:      fmt.Errorf("decoding response: %w", err),
		}
	}

	return nil
}

// jsonBody marshals v for a request body.
func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("backend: encoding request: %w", err)
	}

	return bytes.NewReader(data), nil
}

// bucketAccess returns a prepare func that sets the bucket access header
// when token is non-empty.
func bucketAccess(token string) func(*http.Request) {
	return func(req *http.Request) {
		if token != "" {
			req.Header.Set(HeaderBucketAccess, token)
		}
	}
}
