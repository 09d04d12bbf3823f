package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatdb/pkg/auth"
	"chatdb/pkg/directory"
	"chatdb/pkg/telemetry"
	"chatdb/pkg/utils"
	"chatdb/pkg/validation"
)

type chatHandlers struct {
	dir *directory.ChatDirectory
}

// RegisterChats registers the chat routes onto the provided router.
func RegisterChats(r *mux.Router, d *directory.ChatDirectory) {
	h := &chatHandlers{dir: d}

	// Collection routes. "all" and "search" must come before "{id}".
	r.HandleFunc("/chats", h.createChat).Methods(http.MethodPost)
	r.HandleFunc("/chats", h.listChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/all", h.listAllChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/search", h.searchChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/saved", h.savedChat).Methods(http.MethodGet)

	// Single resource routes
	r.HandleFunc("/chats/{id}", h.getChat).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}", h.editChat).Methods(http.MethodPatch)
	r.HandleFunc("/chats/{id}", h.deleteChat).Methods(http.MethodDelete)

	// Membership
	r.HandleFunc("/chats/{id}/participants", h.addParticipant).Methods(http.MethodPost)
	r.HandleFunc("/chats/{id}/participants/{userID}", h.removeParticipant).Methods(http.MethodDelete)
	r.HandleFunc("/chats/{id}/admins/{userID}", h.promoteAdmin).Methods(http.MethodPost)
	r.HandleFunc("/chats/{id}/admins/{userID}", h.demoteAdmin).Methods(http.MethodDelete)

	// Pin slot and read pointer
	r.HandleFunc("/chats/{id}/pin", h.togglePin).Methods(http.MethodPost)
	r.HandleFunc("/chats/{id}/read", h.markRead).Methods(http.MethodPost)

	// Chat-scoped messages
	r.HandleFunc("/chats/{id}/messages", h.appendMessage).Methods(http.MethodPost)
	r.HandleFunc("/chats/{id}/messages", h.listMessages).Methods(http.MethodGet)
}

type createChatReq struct {
	Name         string   `json:"name" validate:"required,max=128"`
	Description  string   `json:"description" validate:"max=512"`
	User         string   `json:"user"`
	Participants []string `json:"participants" validate:"max=256"`
	ImageRef     string   `json:"image_ref"`
}

// createChat handles POST /chats. The caller becomes creator, first
// participant and initial admin.
func (h *chatHandlers) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatReq
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
	c, err := h.dir.CreateChat(r.Context(), directory.CreateChatParams{
		Name:         req.Name,
		Description:  req.Description,
		CreatorID:    user,
		Participants: req.Participants,
		ImageRef:     req.ImageRef,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

// listChats handles GET /chats: the caller's chat list, newest activity
// first, with unread counts.
func (h *chatHandlers) listChats(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if _, err := h.dir.EnsureSavedChat(r.Context(), user); err != nil {
		writeErr(w, err)
		return
	}
	entries, err := h.dir.ListUserChats(user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Chats []directory.ChatListEntry `json:"chats"`
	}{Chats: entries})
}

// listAllChats handles GET /chats/all: every group chat with unread
// counts for all participants. Directory admins only.
func (h *chatHandlers) listAllChats(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	out, err := h.dir.ListAllChats(user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Chats []directory.ChatOverview `json:"chats"`
	}{Chats: out})
}

// searchChats handles GET /chats/search?q=. Matches carry unread counts
// for every participant, like the admin listing.
func (h *chatHandlers) searchChats(w http.ResponseWriter, r *http.Request) {
	if _, status, msg := auth.ResolveUserFromRequest(r, ""); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	chats, err := h.dir.SearchChats(r.URL.Query().Get("q"))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Chats []directory.ChatOverview `json:"chats"`
	}{Chats: chats})
}

// savedChat handles GET /chats/saved: the caller's saved-messages chat,
// created on first access.
func (h *chatHandlers) savedChat(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	c, err := h.dir.EnsureSavedChat(r.Context(), user)
	if err != nil {
		writeErr(w, err)
		return
	}
	view, err := h.dir.GetChat(r.Context(), c.ID, user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, view)
}

// getChat handles GET /chats/{id}. Opening the chat moves the caller's
// read pointer to the newest message.
func (h *chatHandlers) getChat(w http.ResponseWriter, r *http.Request) {
	defer telemetry.StartSpan(r.Context(), "get_chat")()
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	view, err := h.dir.GetChat(r.Context(), mux.Vars(r)["id"], user)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, view)
}

type editChatReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ImageRef    *string `json:"image_ref"`
	User        string  `json:"user"`
}

// editChat handles PATCH /chats/{id}. Chat admins only.
func (h *chatHandlers) editChat(w http.ResponseWriter, r *http.Request) {
	var req editChatReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	user, status, msg := auth.ResolveUserFromRequest(r, req.User)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	c, err := h.dir.EditChat(r.Context(), mux.Vars(r)["id"], user, directory.EditChatParams{
		Name:        req.Name,
		Description: req.Description,
		ImageRef:    req.ImageRef,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

// deleteChat handles DELETE /chats/{id}.
func (h *chatHandlers) deleteChat(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := h.dir.DeleteChat(r.Context(), mux.Vars(r)["id"], user); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "deleted"})
}

type participantReq struct {
	User   string `json:"user"`
	Target string `json:"target" validate:"required,max=128"`
}

// addParticipant handles POST /chats/{id}/participants.
func (h *chatHandlers) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req participantReq
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
	c, err := h.dir.AddParticipant(r.Context(), mux.Vars(r)["id"], user, req.Target)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

// removeParticipant handles DELETE /chats/{id}/participants/{userID}.
// Self-removal is always allowed; removing others takes chat admin.
func (h *chatHandlers) removeParticipant(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	vars := mux.Vars(r)
	c, err := h.dir.RemoveParticipant(r.Context(), vars["id"], user, vars["userID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

// promoteAdmin handles POST /chats/{id}/admins/{userID}.
func (h *chatHandlers) promoteAdmin(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	vars := mux.Vars(r)
	if err := h.dir.RequireChatAdmin(vars["id"], user); err != nil {
		writeErr(w, err)
		return
	}
	c, err := h.dir.Members().PromoteAdmin(r.Context(), vars["id"], vars["userID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

// demoteAdmin handles DELETE /chats/{id}/admins/{userID}.
func (h *chatHandlers) demoteAdmin(w http.ResponseWriter, r *http.Request) {
	user, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	vars := mux.Vars(r)
	if err := h.dir.RequireChatAdmin(vars["id"], user); err != nil {
		writeErr(w, err)
		return
	}
	c, err := h.dir.Members().DemoteAdmin(r.Context(), vars["id"], vars["userID"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

type pinReq struct {
	User      string `json:"user"`
	MessageID string `json:"message_id" validate:"required"`
}

// togglePin handles POST /chats/{id}/pin. Pinning the already-pinned
// message clears the slot.
func (h *chatHandlers) togglePin(w http.ResponseWriter, r *http.Request) {
	var req pinReq
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
	c, err := h.dir.TogglePinned(r.Context(), mux.Vars(r)["id"], user, req.MessageID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, c)
}

type markReadReq struct {
	User      string `json:"user"`
	MessageID string `json:"message_id" validate:"required"`
}

// markRead handles POST /chats/{id}/read: move the caller's read pointer
// to the named message. Pointers never move backwards.
func (h *chatHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	var req markReadReq
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
	if err := h.dir.MarkRead(r.Context(), mux.Vars(r)["id"], user, req.MessageID); err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, 0, map[string]string{"status": "ok"})
}
