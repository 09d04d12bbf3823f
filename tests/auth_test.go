package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	testutils "chatdb/tests/utils"
)

func TestMissingAPIKeyRejected(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	req, err := http.NewRequest("GET", srv.URL+"/v1/chats", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("no api key: expected 401 got %v", res.Status)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	req, err := http.NewRequest("GET", srv.URL+"/v1/chats", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testutils.FrontendAPIKey)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", "deadbeef")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 401 {
		t.Fatalf("bad signature: expected 401 got %v", res.Status)
	}
}

func TestSignatureQueryMismatch(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats?user=bob", nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("signature/query mismatch: expected 403 got %v", res.Status)
	}
}

func TestBackendActsForUser(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	// backend keys name the user via header, no signature needed
	req, err := http.NewRequest("GET", srv.URL+"/v1/chats", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testutils.BackendAPIKey)
	req.Header.Set("X-User-ID", "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("backend without signature: expected 200 got %v", res.Status)
	}
}

func TestSignEndpoint(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	b, _ := json.Marshal(map[string]string{"userId": "alice"})
	req, err := http.NewRequest("POST", srv.URL+"/v1/_sign", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testutils.BackendAPIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sign request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("sign: expected 200 got %v", res.Status)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode sign response: %v", err)
	}
	want := testutils.SignHMAC(testutils.BackendAPIKey, "alice")
	if out["signature"] != want {
		t.Fatalf("signature mismatch: got %s want %s", out["signature"], want)
	}

	// the minted signature verifies on real endpoints
	req2, err := http.NewRequest("GET", srv.URL+"/v1/chats", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req2.Header.Set("Authorization", "Bearer "+testutils.FrontendAPIKey)
	req2.Header.Set("X-User-ID", "alice")
	req2.Header.Set("X-User-Signature", out["signature"])
	res2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("signed request failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("minted signature should verify, got %v", res2.Status)
	}

	// frontend keys cannot mint signatures
	req3, err := http.NewRequest("POST", srv.URL+"/v1/_sign", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req3.Header.Set("Authorization", "Bearer "+testutils.FrontendAPIKey)
	res3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("frontend sign request failed: %v", err)
	}
	defer res3.Body.Close()
	if res3.StatusCode != 403 {
		t.Fatalf("frontend sign: expected 403 got %v", res3.Status)
	}
}

func TestFrontendScopeBlocksAdminListing(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/all", nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("frontend key on /chats/all: expected 403 got %v", res.Status)
	}

	// a backend key acting for a directory admin gets through
	req2, err := http.NewRequest("GET", srv.URL+"/v1/chats/all", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req2.Header.Set("Authorization", "Bearer "+testutils.BackendAPIKey)
	req2.Header.Set("X-User-ID", testutils.AdminUser)
	res2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin listing failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("directory admin listing: expected 200 got %v", res2.Status)
	}

	// backend acting for a regular user is still refused by the directory
	req3, err := http.NewRequest("GET", srv.URL+"/v1/chats/all", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req3.Header.Set("Authorization", "Bearer "+testutils.BackendAPIKey)
	req3.Header.Set("X-User-ID", "alice")
	res3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("non-admin listing failed: %v", err)
	}
	defer res3.Body.Close()
	if res3.StatusCode != 403 {
		t.Fatalf("non-admin on /chats/all: expected 403 got %v", res3.Status)
	}
}
