package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	testutils "chatdb/tests/utils"
)

// createChat posts a new chat as user and returns its id.
func createChat(t *testing.T, srv *testutils.LocalServer, user, name string, participants ...string) string {
	t.Helper()
	payload := map[string]interface{}{"name": name, "participants": participants}
	b, _ := json.Marshal(payload)
	req := testutils.FrontendRequest(t, "POST", srv.URL+"/v1/chats", bytes.NewReader(b), user)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create chat request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 201 {
		t.Fatalf("create chat: expected 201 got %v", res.Status)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode create chat response: %v", err)
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("create chat: missing id in response %v", out)
	}
	return id
}

// postMessage appends a text message as user and returns its id.
func postMessage(t *testing.T, srv *testutils.LocalServer, chatID, user, body string) string {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"kind": "text", "body": body})
	req := testutils.FrontendRequest(t, "POST", srv.URL+"/v1/chats/"+chatID+"/messages", bytes.NewReader(b), user)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post message failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 201 {
		t.Fatalf("post message: expected 201 got %v", res.Status)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("post message: missing id in response %v", out)
	}
	return id
}

func TestCreateAndGetChat(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "design team", "bob")

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID, nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get chat failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("get chat: expected 200 got %v", res.Status)
	}
	var view map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode chat view: %v", err)
	}
	if view["name"] != "design team" {
		t.Fatalf("expected name 'design team', got %v", view["name"])
	}
	if view["unread"] != float64(0) {
		t.Fatalf("creator should have no unread, got %v", view["unread"])
	}
	grad, ok := view["gradient"].(map[string]interface{})
	if !ok || grad["colors"] == nil {
		t.Fatalf("expected a gradient with colors, got %v", view["gradient"])
	}

	// non-participants cannot open the chat
	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID, nil, "mallory")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get chat as outsider failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 403 {
		t.Fatalf("outsider should get 403, got %v", res2.Status)
	}
}

func TestListChatsIncludesSaved(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	createChat(t, srv, "alice", "book club", "bob")

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats", nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list chats failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("list chats: expected 200 got %v", res.Status)
	}
	var out struct {
		Chats []map[string]interface{} `json:"chats"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode chat list: %v", err)
	}
	if len(out.Chats) != 2 {
		t.Fatalf("expected group chat plus saved chat, got %d entries", len(out.Chats))
	}
	foundSaved := false
	for _, c := range out.Chats {
		if c["id"] == "saved-alice" {
			foundSaved = true
		}
	}
	if !foundSaved {
		t.Fatalf("saved chat missing from list: %v", out.Chats)
	}
}

func TestListChatsOrdering(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	first := createChat(t, srv, "alice", "first")
	second := createChat(t, srv, "alice", "second")

	// activity in the older chat should float it to the top
	postMessage(t, srv, first, "alice", "bump")

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats", nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list chats failed: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Chats []map[string]interface{} `json:"chats"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode chat list: %v", err)
	}
	if len(out.Chats) < 2 {
		t.Fatalf("expected at least 2 chats, got %d", len(out.Chats))
	}
	if out.Chats[0]["id"] != first {
		t.Fatalf("expected %s first after activity, got order %v then %v", first, out.Chats[0]["id"], out.Chats[1]["id"])
	}
	_ = second
}

func TestSearchChatsExcludesSaved(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	createChat(t, srv, "alice", "Weekend Plans")
	// materialize alice's saved chat
	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/saved", nil, "alice")
	res0, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res0.Body.Close()
	if res0.StatusCode != 200 {
		t.Fatalf("saved chat fetch failed: %v", res0.Status)
	}

	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/search?q=sav", nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Chats []map[string]interface{} `json:"chats"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(out.Chats) != 0 {
		t.Fatalf("saved chats must never match search, got %v", out.Chats)
	}

	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/search?q=weekend", nil, "alice")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	defer res2.Body.Close()
	if err := json.NewDecoder(res2.Body).Decode(&out); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if len(out.Chats) != 1 {
		t.Fatalf("expected one case-insensitive match, got %v", out.Chats)
	}
	unread, ok := out.Chats[0]["unread"].(map[string]interface{})
	if !ok {
		t.Fatalf("search match missing unread counts: %v", out.Chats[0])
	}
	if _, ok := unread["alice"]; !ok {
		t.Fatalf("expected unread entry for alice, got %v", unread)
	}
}

func TestPinToggle(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "pins")
	msgID := postMessage(t, srv, chatID, "alice", "pin me")

	pin := func() map[string]interface{} {
		b, _ := json.Marshal(map[string]string{"message_id": msgID})
		req := testutils.FrontendRequest(t, "POST", srv.URL+"/v1/chats/"+chatID+"/pin", bytes.NewReader(b), "alice")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("pin request failed: %v", err)
		}
		defer res.Body.Close()
		if res.StatusCode != 200 {
			t.Fatalf("pin: expected 200 got %v", res.Status)
		}
		var out map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode pin response: %v", err)
		}
		return out
	}

	out := pin()
	if out["pinned_message_id"] != msgID {
		t.Fatalf("expected pinned_message_id %s, got %v", msgID, out["pinned_message_id"])
	}
	// pinning the same message again clears the slot
	out = pin()
	if id, _ := out["pinned_message_id"].(string); id != "" {
		t.Fatalf("expected cleared pin, got %v", id)
	}
}

func TestDeleteChat(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "ephemeral", "bob")
	postMessage(t, srv, chatID, "alice", "soon gone")

	req := testutils.FrontendRequest(t, "DELETE", srv.URL+"/v1/chats/"+chatID, nil, "bob")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete chat failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("any participant may delete, expected 200 got %v", res.Status)
	}

	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID, nil, "alice")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get deleted chat failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 404 {
		t.Fatalf("deleted chat should 404, got %v", res2.Status)
	}
}
