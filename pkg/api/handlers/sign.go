package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatdb/pkg/logger"
	"chatdb/pkg/utils"
)

// RegisterSigning registers the signing endpoint onto the router. The
// endpoint sits behind the gateway middleware (backend API keys) and
// uses the caller's API key as the signing secret.
func RegisterSigning(r *mux.Router) {
	r.HandleFunc("/_sign", signHandler).Methods(http.MethodPost)
}

// signHandler handles POST /_sign: it computes the HMAC-SHA256 user
// signature that frontend callers must present, keyed by the caller's
// own backend API key. Backend role only.
func signHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	role := r.Header.Get("X-Role-Name")
	if role != "backend" {
		logger.Warn("sign_forbidden", zap.String("role", role), zap.String("remote", r.RemoteAddr))
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}

	auth := r.Header.Get("Authorization")
	var key string
	if len(auth) > 7 && (auth[:7] == "Bearer " || auth[:7] == "bearer ") {
		key = auth[7:]
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		logger.Warn("sign_missing_api_key", zap.String("remote", r.RemoteAddr))
		utils.JSONError(w, http.StatusUnauthorized, "missing api key")
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload.UserID))
	sig := hex.EncodeToString(mac.Sum(nil))
	_ = json.NewEncoder(w).Encode(map[string]string{"userId": payload.UserID, "signature": sig})
}
