package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	testutils "chatdb/tests/utils"
)

func TestAppendAndListMessages(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "standup", "bob")
	postMessage(t, srv, chatID, "alice", "good morning")

	req := testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID+"/messages", nil, "bob")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("list messages: expected 200 got %v", res.Status)
	}
	var out struct {
		Messages []map[string]interface{} `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(out.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out.Messages))
	}
	m := out.Messages[0]
	if m["body"] != "good morning" {
		t.Fatalf("unexpected body %v", m["body"])
	}
	if m["seq"] != float64(1) {
		t.Fatalf("first message should have seq 1, got %v", m["seq"])
	}
	sender, _ := m["sender_info"].(map[string]interface{})
	if sender == nil || sender["display_name"] != "Alice" {
		t.Fatalf("expected resolved sender info, got %v", m["sender_info"])
	}

	// outsiders cannot read the log
	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID+"/messages", nil, "mallory")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("outsider list failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 403 {
		t.Fatalf("outsider should get 403, got %v", res2.Status)
	}
}

func TestEditMessage(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "edits", "bob")
	msgID := postMessage(t, srv, chatID, "alice", "typo")

	edit := func(user string) *http.Response {
		b, _ := json.Marshal(map[string]string{"body": "fixed"})
		req := testutils.FrontendRequest(t, "PUT", srv.URL+"/v1/messages/"+msgID, bytes.NewReader(b), user)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("edit request failed: %v", err)
		}
		return res
	}

	res := edit("bob")
	res.Body.Close()
	if res.StatusCode != 403 {
		t.Fatalf("only the sender may edit, expected 403 got %v", res.Status)
	}

	res = edit("alice")
	defer res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("sender edit: expected 200 got %v", res.Status)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode edit response: %v", err)
	}
	if out["body"] != "fixed" || out["edited"] != true {
		t.Fatalf("expected edited body, got %v", out)
	}
}

func TestDeleteMessageTombstone(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "deletions", "bob")
	msgID := postMessage(t, srv, chatID, "alice", "delete me")
	postMessage(t, srv, chatID, "alice", "keep me")

	req := testutils.FrontendRequest(t, "DELETE", srv.URL+"/v1/messages/"+msgID, nil, "alice")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("delete: expected 200 got %v", res.Status)
	}

	// deleting again is a no-op
	req = testutils.FrontendRequest(t, "DELETE", srv.URL+"/v1/messages/"+msgID, nil, "alice")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != 200 {
		t.Fatalf("repeat delete should be idempotent, got %v", res.Status)
	}

	// the tombstone still resolves by id, stripped of content
	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/messages/"+msgID, nil, "bob")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get tombstone failed: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("tombstone get: expected 200 got %v", res2.Status)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(res2.Body).Decode(&out); err != nil {
		t.Fatalf("decode tombstone: %v", err)
	}
	if out["deleted"] != true {
		t.Fatalf("expected deleted flag, got %v", out)
	}
	if body, _ := out["body"].(string); body != "" {
		t.Fatalf("tombstone must not carry content, got body %q", body)
	}

	// the live log skips the tombstone
	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/chats/"+chatID+"/messages", nil, "alice")
	res3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list after delete failed: %v", err)
	}
	defer res3.Body.Close()
	var list struct {
		Messages []map[string]interface{} `json:"messages"`
	}
	if err := json.NewDecoder(res3.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 1 || list.Messages[0]["body"] != "keep me" {
		t.Fatalf("expected only the surviving message, got %v", list.Messages)
	}
}

func TestReplyDegradesOnDelete(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "replies", "bob")
	target := postMessage(t, srv, chatID, "alice", "original")

	b, _ := json.Marshal(map[string]string{"kind": "reply", "body": "re: original", "ref_message_id": target})
	req := testutils.FrontendRequest(t, "POST", srv.URL+"/v1/chats/"+chatID+"/messages", bytes.NewReader(b), "bob")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post reply failed: %v", err)
	}
	var reply map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != 201 {
		t.Fatalf("post reply: expected 201 got %v", res.Status)
	}
	ref, _ := reply["ref"].(map[string]interface{})
	if ref == nil || ref["available"] != true {
		t.Fatalf("fresh reply should resolve its target, got %v", reply["ref"])
	}

	// tombstoning the target degrades the reference, not the reply
	req = testutils.FrontendRequest(t, "DELETE", srv.URL+"/v1/messages/"+target, nil, "alice")
	res0, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	res0.Body.Close()
	if res0.StatusCode != 200 {
		t.Fatalf("delete target failed: %v", res0.Status)
	}

	replyID, _ := reply["id"].(string)
	req = testutils.FrontendRequest(t, "GET", srv.URL+"/v1/messages/"+replyID, nil, "bob")
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get reply failed: %v", err)
	}
	defer res2.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(res2.Body).Decode(&out); err != nil {
		t.Fatalf("decode reply view: %v", err)
	}
	ref, _ = out["ref"].(map[string]interface{})
	if ref == nil || ref["available"] != false {
		t.Fatalf("reply to deleted target should show unavailable ref, got %v", out["ref"])
	}
}

func TestReactionToggle(t *testing.T) {
	srv := testutils.SetupServer(t)
	defer srv.Close()

	chatID := createChat(t, srv, "alice", "reactions", "bob")
	msgID := postMessage(t, srv, chatID, "alice", "react to me")

	react := func() map[string]interface{} {
		b, _ := json.Marshal(map[string]string{"symbol": "👍"})
		req := testutils.FrontendRequest(t, "POST", srv.URL+"/v1/messages/"+msgID+"/reactions", bytes.NewReader(b), "bob")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("reaction request failed: %v", err)
		}
		defer res.Body.Close()
		if res.StatusCode != 200 {
			t.Fatalf("reaction: expected 200 got %v", res.Status)
		}
		var out map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode reaction response: %v", err)
		}
		return out
	}

	out := react()
	reactions, _ := out["reactions"].(map[string]interface{})
	if reactions == nil || reactions["👍"] == nil {
		t.Fatalf("expected reaction recorded, got %v", out["reactions"])
	}
	// second toggle removes it
	out = react()
	if out["reactions"] != nil {
		t.Fatalf("expected reaction removed, got %v", out["reactions"])
	}
}
