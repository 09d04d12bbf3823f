package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatdb/pkg/api"
	"chatdb/pkg/auth"
	"chatdb/pkg/config"
	"chatdb/pkg/directory"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/monitor"
	"chatdb/pkg/store"
)

// Shared credentials for black-box tests. The signing secret doubles as
// the backend key, matching how the app derives signing keys.
const (
	FrontendAPIKey = "fe-test-key"
	BackendAPIKey  = "be-test-key"
	AdminAPIKey    = "admin-test-key"
	SigningSecret  = "signsecret"
	AdminUser      = "root"
)

// LocalServer is a lightweight test server that routes requests directly
// to the handler chain without real network listeners. It replaces
// http.DefaultClient while active and restores it on Close.
type LocalServer struct {
	URL   string
	Store *store.Store
	Dir   *directory.ChatDirectory
	prev  *http.Client
}

func (s *LocalServer) Close() {
	if s.prev != nil {
		http.DefaultClient = s.prev
	}
}

type handlerRoundTripper struct {
	handler http.Handler
}

func (h *handlerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr.Result(), nil
}

type testIdentity map[string]models.UserSummary

func (t testIdentity) GetUser(userID string) (models.UserSummary, bool) {
	u, ok := t[userID]
	return u, ok
}

type runtimeAuthorizer struct{}

func (runtimeAuthorizer) IsDirectoryAdmin(userID string) bool { return config.IsAdminUser(userID) }

type testMedia struct{}

func (testMedia) ResolveMedia(ref string) string { return "https://media.test/" + ref }

// SetupServer opens a fresh store in a temp dir, wires the directory and
// the full auth middleware chain, and routes http.DefaultClient at it.
func SetupServer(t *testing.T) *LocalServer {
	t.Helper()
	if err := logger.Init("error", "json"); err != nil {
		t.Fatalf("logger.Init failed: %v", err)
	}
	s, err := store.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys: map[string]struct{}{BackendAPIKey: {}},
		SigningKeys: map[string]struct{}{SigningSecret: {}, BackendAPIKey: {}},
		AdminUsers:  map[string]struct{}{AdminUser: {}},
	})

	id := testIdentity{
		"alice": {ID: "alice", DisplayName: "Alice"},
		"bob":   {ID: "bob", DisplayName: "Bob"},
	}
	dir := directory.New(s, id, runtimeAuthorizer{}, testMedia{})

	sec := auth.SecConfig{
		RPS:          1000,
		Burst:        1000,
		BackendKeys:  map[string]struct{}{BackendAPIKey: {}},
		FrontendKeys: map[string]struct{}{FrontendAPIKey: {}},
		AdminKeys:    map[string]struct{}{AdminAPIKey: {}},
	}
	handler := auth.AuthenticateRequestMiddleware(sec)(
		auth.RequireSignedUser(api.Handler(dir, monitor.New(s, 0))))

	prev := http.DefaultClient
	http.DefaultClient = &http.Client{Transport: &handlerRoundTripper{handler: handler}}
	return &LocalServer{URL: "http://localtest", Store: s, Dir: dir, prev: prev}
}

// SignHMAC returns hex HMAC-SHA256 of user using key.
func SignHMAC(key, user string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(user))
	return hex.EncodeToString(mac.Sum(nil))
}

// FrontendRequest builds a request carrying the frontend key and a valid
// user signature.
func FrontendRequest(t *testing.T, method, url string, body io.Reader, user string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+FrontendAPIKey)
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Signature", SignHMAC(SigningSecret, user))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
