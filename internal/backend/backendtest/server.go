// Package backendtest provides an in-memory fake of the file-sharing backend
// for tests. It speaks the same HTTP surface as the real service: OAuth
// callback, token validate/refresh/logout, multipart upload, bucket listing,
// download, admins, protection check and bucket password authentication.
//
// Access tokens are HS256 JWTs checked against the server's clock, so tests
// expire them with Advance. Refresh and bucket tokens are opaque uuids. Every
// request is recorded so tests can assert call order and headers.
package backendtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Route patterns, as recorded in Call.Pattern.
const (
	RouteOAuth        = "GET /auth/oauth/{provider}"
	RouteCallback     = "GET /auth/oauth/{provider}/callback"
	RouteValidate     = "POST /auth/validate"
	RouteRefresh      = "POST /auth/refresh"
	RouteLogout       = "POST /auth/logout"
	RouteUpload       = "POST /files/upload"
	RouteBucket       = "GET /files/s/{bucket_id}"
	RouteDownload     = "GET /files/s/{bucket_id}/d/{file_name}"
	RouteAdmins       = "GET /files/s/{bucket_id}/admins"
	RouteProtected    = "GET /files/s/{bucket_id}/protected"
	RouteAuthenticate = "POST /files/s/{bucket_id}/authenticate"
)

const (
	defaultAccessTTL = 15 * time.Minute
	bucketTokenTTL   = time.Hour
	audienceAccess   = "session:access"
	issuer           = "backendtest"
)

// User is an account known to the fake.
type User struct {
	ID       string
	Email    string
	Username string
	Provider string
}

// Call is one recorded request.
type Call struct {
	Pattern      string
	Method       string
	Path         string
	Auth         string // Authorization header
	BucketAccess string // X-Bucket-Access header
	RequestID    string
	UserAgent    string
}

type file struct {
	name        string
	stringID    string
	contentType string
	data        []byte
}

type bucket struct {
	id       string
	password string
	ownerID  string
	admins   []string
	files    []*file
	created  time.Time
}

// Server is a fake backend. Its exported knob fields must be set before the
// first request or under the test's own synchronization.
type Server struct {
	*httptest.Server

	// CallbackURL is where the OAuth entry point redirects, with code and
	// state appended. A redirect_uri query parameter takes precedence.
	// Empty means a plain 200 page carrying the code.
	CallbackURL string
	// OAuthUser is the account the OAuth entry point signs in.
	OAuthUser string
	// AccessTTL is the lifetime of issued access tokens.
	AccessTTL time.Duration

	mu           sync.Mutex
	key          []byte
	now          time.Time
	users        map[string]User
	codes        map[string]string // authorization code -> user id
	refresh      map[string]string // refresh token -> user id
	bucketTokens map[string]string // bucket token -> bucket id
	buckets      map[string]*bucket
	calls        []Call
	failRefresh  bool
	failLogout   bool
	nextState    string
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		AccessTTL:    defaultAccessTTL,
		key:          []byte(uuid.NewString()),
		now:          time.Unix(1_700_000_000, 0),
		users:        make(map[string]User),
		codes:        make(map[string]string),
		refresh:      make(map[string]string),
		bucketTokens: make(map[string]string),
		buckets:      make(map[string]*bucket),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RouteOAuth, s.handleOAuth)
	mux.HandleFunc(RouteCallback, s.handleCallback)
	mux.HandleFunc(RouteValidate, s.handleValidate)
	mux.HandleFunc(RouteRefresh, s.handleRefresh)
	mux.HandleFunc(RouteLogout, s.handleLogout)
	mux.HandleFunc(RouteUpload, s.handleUpload)
	mux.HandleFunc(RouteBucket, s.handleBucket)
	mux.HandleFunc(RouteDownload, s.handleDownload)
	mux.HandleFunc(RouteAdmins, s.handleAdmins)
	mux.HandleFunc(RouteProtected, s.handleProtected)
	mux.HandleFunc(RouteAuthenticate, s.handleAuthenticate)

	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Close)

	return s
}

// record logs the request and echoes X-Request-ID. The pattern is resolved
// from the mux before the handler runs.
func (s *Server) record(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)

		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Pattern:      pattern,
			Method:       r.Method,
			Path:         r.URL.Path,
			Auth:         r.Header.Get("Authorization"),
			BucketAccess: r.Header.Get("X-Bucket-Access"),
			RequestID:    r.Header.Get("X-Request-ID"),
			UserAgent:    r.Header.Get("User-Agent"),
		})
		s.mu.Unlock()

		if id := r.Header.Get("X-Request-ID"); id != "" {
			w.Header().Set("X-Request-ID", id)
		}

		mux.ServeHTTP(w, r)
	})
}

// --- setup ---

// AddUser registers an account.
func (s *Server) AddUser(u User) {
	if u.Provider == "" {
		u.Provider = "github"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = u
}

// AddCode makes code a valid one-shot authorization code for userID.
func (s *Server) AddCode(code, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code] = userID
}

// IssueSession mints a token pair for userID as if it had signed in.
func (s *Server) IssueSession(userID string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	access, refresh, err := s.issueLocked(userID)
	if err != nil {
		panic(err)
	}

	return access, refresh
}

// AddBucket creates a bucket owned by ownerID ("" for anonymous). A non-empty
// password protects it. files maps names to contents.
func (s *Server) AddBucket(id, password, ownerID string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &bucket{id: id, password: password, ownerID: ownerID, created: s.now}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		b.files = append(b.files, &file{
			name:        name,
			stringID:    uuid.NewString(),
			contentType: http.DetectContentType([]byte(files[name])),
			data:        []byte(files[name]),
		})
	}

	s.buckets[id] = b
}

// AddAdmin makes userID an administrator of bucketID.
func (s *Server) AddAdmin(bucketID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[bucketID]; ok {
		b.admins = append(b.admins, userID)
	}
}

// --- knobs ---

// Advance moves the server clock forward, expiring access tokens whose
// lifetime has passed.
func (s *Server) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.now = s.now.Add(d)
}

// FailRefresh makes every refresh request fail with 401.
func (s *Server) FailRefresh(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failRefresh = fail
}

// FailLogout makes every logout request fail with 500.
func (s *Server) FailLogout(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failLogout = fail
}

// RevokeBucketTokens invalidates every token issued for bucketID.
func (s *Server) RevokeBucketTokens(bucketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tok, id := range s.bucketTokens {
		if id == bucketID {
			delete(s.bucketTokens, tok)
		}
	}
}

// SetState fixes the state value the OAuth entry point appends.
func (s *Server) SetState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextState = state
}

// --- inspection ---

// Calls returns a copy of the recorded requests in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)

	return out
}

// Patterns returns the route pattern of every recorded request in order.
func (s *Server) Patterns() []string {
	calls := s.Calls()

	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Pattern
	}

	return out
}

// Count returns how many requests hit route.
func (s *Server) Count(route string) int {
	n := 0

	for _, c := range s.Calls() {
		if c.Pattern == route {
			n++
		}
	}

	return n
}

// ResetCalls forgets recorded requests.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = nil
}

// RefreshTokenValid reports whether refresh is currently accepted.
func (s *Server) RefreshTokenValid(refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refresh[refresh]

	return ok
}

// BucketOwner returns the owner of bucketID ("" if anonymous or unknown).
func (s *Server) BucketOwner(bucketID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[bucketID]; ok {
		return b.ownerID
	}

	return ""
}

// BucketPassword returns the password bucketID was created with.
func (s *Server) BucketPassword(bucketID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[bucketID]; ok {
		return b.password
	}

	return ""
}

// --- tokens ---

type accessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

func (s *Server) issueLocked(userID string) (string, string, error) {
	u, ok := s.users[userID]
	if !ok {
		return "", "", fmt.Errorf("backendtest: unknown user %q", userID)
	}

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(s.now),
			ExpiresAt: jwt.NewNumericDate(s.now.Add(s.AccessTTL)),
		},
		Email:    u.Email,
		Provider: u.Provider,
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", fmt.Errorf("backendtest: signing access token: %w", err)
	}

	refresh := uuid.NewString()
	s.refresh[refresh] = u.ID

	return access, refresh, nil
}

func (s *Server) parseAccessLocked(raw string) (*accessClaims, error) {
	now := s.now

	tok, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audienceAccess),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*accessClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// bearerUser resolves the request's bearer token. ok is false when a header
// is present but invalid; userID is "" when no header is present.
func (s *Server) bearerUser(r *http.Request) (userID string, ok bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", true
	}

	raw, found := strings.CutPrefix(h, "Bearer ")
	if !found {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claims, err := s.parseAccessLocked(raw)
	if err != nil {
		return "", false
	}

	return claims.Subject, true
}

// --- handlers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	code := uuid.NewString()
	s.codes[code] = s.OAuthUser
	state := s.nextState
	callback := s.CallbackURL
	s.mu.Unlock()

	if state == "" {
		state = uuid.NewString()
	}

	if ru := r.URL.Query().Get("redirect_uri"); ru != "" {
		callback = ru
	}

	if callback == "" {
		writeJSON(w, http.StatusOK, map[string]string{"code": code, "state": state})
		return
	}

	q := url.Values{}
	q.Set("code", code)
	q.Set("state", state)
	q.Set("provider", r.PathValue("provider"))

	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}

	http.Redirect(w, r, callback+sep+q.Encode(), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" || r.URL.Query().Get("state") == "" {
		writeError(w, http.StatusBadRequest, "Missing code or state")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.codes[code]
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid authorization code")
		return
	}

	delete(s.codes, code)

	access, refresh, err := s.issueLocked(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	u := s.users[userID]

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user": map[string]string{
			"id":       u.ID,
			"email":    u.Email,
			"username": u.Username,
		},
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok || userID == "" {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	s.mu.Lock()
	u := s.users[userID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"claims": map[string]string{
			"user_id":  u.ID,
			"email":    u.Email,
			"provider": u.Provider,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refresh[req.RefreshToken]
	if s.failRefresh || !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	// Rotation: the presented refresh token is single-use.
	delete(s.refresh, req.RefreshToken)

	access, refresh, err := s.issueLocked(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLogout {
		writeError(w, http.StatusInternalServerError, "Logout unavailable")
		return
	}

	delete(s.refresh, req.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.bearerUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Expected multipart form"})
		return
	}

	b := &bucket{id: uuid.NewString()[:8], ownerID: userID}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Malformed multipart body"})
			return
		}

		data, err := io.ReadAll(part)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Malformed multipart body"})
			return
		}

		switch part.FormName() {
		case "files":
			b.files = append(b.files, &file{
				name:        part.FileName(),
				stringID:    uuid.NewString(),
				contentType: http.DetectContentType(data),
				data:        data,
			})
		case "password":
			b.password = string(data)
		}
	}

	if len(b.files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "No files provided"})
		return
	}

	s.mu.Lock()
	b.created = s.now
	s.buckets[b.id] = b
	s.mu.Unlock()

	meta := b.metadata()

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": uuid.NewString(),
		"success":        true,
		"storage_id":     b.id,
		"files":          meta["files"],
		"total_size":     meta["total_size"],
	})
}

func (b *bucket) metadata() map[string]any {
	files := make([]map[string]any, 0, len(b.files))

	var total int64

	for _, f := range b.files {
		files = append(files, map[string]any{
			"original_name": f.name,
			"string_id":     f.stringID,
			"key":           b.id + "/" + f.name,
			"size":          len(f.data),
			"content_type":  f.contentType,
		})
		total += int64(len(f.data))
	}

	return map[string]any{"storage_id": b.id, "files": files, "total_size": total}
}

// accessible resolves the bucket and checks the bucket token for protected
// buckets. It writes the error response itself.
func (s *Server) accessible(w http.ResponseWriter, r *http.Request) (*bucket, bool) {
	id := r.PathValue("bucket_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Bucket not found")
		return nil, false
	}

	if b.password == "" {
		return b, true
	}

	tok := r.Header.Get("X-Bucket-Access")
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "Bucket access token required")
		return nil, false
	}

	if s.bucketTokens[tok] != id {
		writeError(w, http.StatusUnauthorized, "Invalid bucket access token")
		return nil, false
	}

	return b, true
}

func (s *Server) handleBucket(w http.ResponseWriter, r *http.Request) {
	b, ok := s.accessible(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	meta := b.metadata()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	b, ok := s.accessible(w, r)
	if !ok {
		return
	}

	name := r.PathValue("file_name")

	s.mu.Lock()

	var found *file

	for _, f := range b.files {
		if f.name == name {
			found = f
			break
		}
	}

	s.mu.Unlock()

	if found == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", found.contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", found.name))
	_, _ = w.Write(found.data)
}

func (s *Server) handleAdmins(w http.ResponseWriter, r *http.Request) {
	b, ok := s.accessible(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info := func(userID string, owner bool) map[string]any {
		u := s.users[userID]

		return map[string]any{
			"user_id":    userID,
			"email":      u.Email,
			"username":   u.Username,
			"is_owner":   owner,
			"created_at": b.created.Unix(),
		}
	}

	resp := map[string]any{"bucket_id": b.id, "owner": nil, "admins": []any{}}

	if b.ownerID != "" {
		resp["owner"] = info(b.ownerID, true)
	}

	admins := make([]any, 0, len(b.admins))
	for _, id := range b.admins {
		admins = append(admins, info(id, false))
	}

	resp["admins"] = admins

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("bucket_id")

	s.mu.Lock()
	b, ok := s.buckets[id]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Bucket not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bucket_id": id, "protected": b.password != ""})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.bearerUser(r); !ok {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	var req struct {
		Password string `json:"password"`
	}

	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := r.PathValue("bucket_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Bucket not found")
		return
	}

	if b.password == "" || req.Password != b.password {
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	tok := uuid.NewString()
	s.bucketTokens[tok] = id

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": tok,
		"expires_in":   int64(bucketTokenTTL / time.Second),
	})
}
