package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"chatdb/pkg/directory"
	"chatdb/pkg/monitor"
	"chatdb/pkg/utils"
)

type adminHandlers struct {
	dir *directory.ChatDirectory
	mon *monitor.Monitor
}

// RegisterAdmin registers operator routes onto the admin subrouter.
// These speak raw store terms and are scoped to admin/backend keys.
func RegisterAdmin(r *mux.Router, d *directory.ChatDirectory, mon *monitor.Monitor) {
	h := &adminHandlers{dir: d, mon: mon}
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/keys", h.listKeys).Methods(http.MethodGet)
	r.HandleFunc("/keys/{key}", h.getKey).Methods(http.MethodGet)
}

func (h *adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok","service":"chatdb"}`))
}

// stats reports chat and live-message counts across the store.
func (h *adminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	chats, err := h.dir.Store().ListChats()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var msgCount int64
	for _, c := range chats {
		msgs, err := h.dir.Store().ListMessages(c.ID)
		if err != nil {
			continue
		}
		msgCount += int64(len(msgs))
	}
	var snap monitor.Snapshot
	if h.mon != nil {
		snap = h.mon.Snapshot()
	}
	_ = utils.JSONWrite(w, 0, struct {
		Chats    int              `json:"chats"`
		Messages int64            `json:"messages"`
		Runtime  monitor.Snapshot `json:"runtime"`
	}{Chats: len(chats), Messages: msgCount, Runtime: snap})
}

// listKeys lists raw store keys, optionally bounded by ?prefix=.
func (h *adminHandlers) listKeys(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	keys, err := h.dir.Store().ListKeys(r.URL.Query().Get("prefix"))
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, 0, struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
}

// getKey returns the raw value stored under one key. gorilla/mux does
// not unescape path variables, so recover the original key first.
func (h *adminHandlers) getKey(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	key, err := url.PathUnescape(mux.Vars(r)["key"])
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}
	v, err := h.dir.Store().GetKey(key)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"key": key, "value": v})
}
