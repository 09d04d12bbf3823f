package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatdb/pkg/auth"
	"chatdb/pkg/directory"
	"chatdb/pkg/models"
	"chatdb/pkg/telemetry"
	"chatdb/pkg/utils"
	"chatdb/pkg/validation"
)

type messageHandlers struct {
	dir *directory.ChatDirectory
}

// RegisterMessages registers the message-id routes onto the router.
// Chat-scoped message routes live under /chats/{id}/messages.
func RegisterMessages(r *mux.Router, d *directory.ChatDirectory) {
	h := &messageHandlers{dir: d}

	r.HandleFunc("/messages/{id}", h.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", h.editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/reactions", h.toggleReaction).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/seen", h.markSeen).Methods(http.MethodPost)
}

type appendMessageReq struct {
	User         string `json:"user"`
	Kind         string `json:"kind" validate:"required,msgkind"`
	Body         string `json:"body" validate:"max=8192"`
	MediaRef     string `json:"media_ref"`
	PollRef      string `json:"poll_ref"`
	RefMessageID string `json:"ref_message_id"`
}

// appendMessage handles POST /chats/{id}/messages.
func (h *chatHandlers) appendMessage(w http.ResponseWriter, r *http.Request) {
	defer telemetry.StartSpan(r.Context(), "append_message")()

	var req appendMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, req.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := validation.Check(req); err != nil {
		writeErr(w, err)
		return
	}
	view, err := h.dir.AppendMessage(r.Context(), mux.Vars(r)["id"], directory.AppendMessageParams{
		Sender:       user,
		Kind:         models.MessageKind(req.Kind),
		Body:         req.Body,
		MediaRef:     req.MediaRef,
		PollRef:      req.PollRef,
		RefMessageID: req.RefMessageID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, view)
}

// listMessages handles GET /chats/{id}/messages. Optional query params:
// "q" switches to body substring search, "limit" caps the page size.
func (h *chatHandlers) listMessages(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	chatID := mux.Vars(r)["id"]

	var (
		views []directory.MessageView
		err   error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		views, err = h.dir.SearchMessages(chatID, user, q)
	} else if ls := r.URL.Query().Get("limit"); ls != "" {
		limit, perr := strconv.Atoi(ls)
		if perr != nil || limit < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		views, err = h.dir.ListMessages(chatID, user, limit)
	} else {
		views, err = h.dir.ListMessages(chatID, user)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Messages []directory.MessageView `json:"messages"`
	}{Messages: views})
}

// getMessage handles GET /messages/{id}. Tombstones come back with the
// deleted flag set and no content.
func (h *messageHandlers) getMessage(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	view, err := h.dir.GetMessageView(mux.Vars(r)["id"], user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, view)
}

type editMessageReq struct {
	User string `json:"user"`
	Body string `json:"body" validate:"required,max=8192"`
}

// editMessage handles PUT /messages/{id}. Senders only.
func (h *messageHandlers) editMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, req.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := validation.Check(req); err != nil {
		writeErr(w, err)
		return
	}
	view, err := h.dir.EditMessage(r.Context(), mux.Vars(r)["id"], user, req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, view)
}

// deleteMessage handles DELETE /messages/{id}: sender or chat admin.
func (h *messageHandlers) deleteMessage(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := h.dir.DeleteMessage(r.Context(), mux.Vars(r)["id"], user); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "deleted"})
}

type reactionReq struct {
	User   string `json:"user"`
	Symbol string `json:"symbol" validate:"required,max=64"`
}

// toggleReaction handles POST /messages/{id}/reactions: add the caller's
// reaction, or remove it when already present.
func (h *messageHandlers) toggleReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, req.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := validation.Check(req); err != nil {
		writeErr(w, err)
		return
	}
	view, err := h.dir.ToggleReaction(r.Context(), mux.Vars(r)["id"], user, req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, view)
}

// markSeen handles POST /messages/{id}/seen.
func (h *messageHandlers) markSeen(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := h.dir.MarkSeen(r.Context(), mux.Vars(r)["id"], user); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "ok"})
}
