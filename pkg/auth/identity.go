package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chatdb/pkg/config"
	"chatdb/pkg/logger"
	"chatdb/pkg/utils"
)

// Role is the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig carries the security configuration driving authentication,
// CORS and rate limiting. Shared here so limiter.go and gateway.go can
// reference one type.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxUserKey struct{}

// RequireSignedUser verifies the X-User-ID / X-User-Signature header
// pair and injects the verified user id into the request context.
// Backend and admin callers may omit the signature; frontend callers
// must present one.
func RequireSignedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if (role == "backend" || role == "admin") && sig == "" {
			// trusted callers speak for any user via header or body
			next.ServeHTTP(w, r)
			return
		}

		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		keys := config.GetSigningKeys()
		if len(keys) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		ok := false
		for k := range keys {
			mac := hmac.New(sha256.New, []byte(k))
			mac.Write([]byte(userID))
			expected := hex.EncodeToString(mac.Sum(nil))
			if hmac.Equal([]byte(expected), []byte(sig)) {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("invalid_signature", zap.String("user", userID))
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the signature-verified user id or "".
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func validateUserID(u string) (bool, string) {
	if u == "" {
		return false, "user id required"
	}
	if len(u) > 128 {
		return false, "user id too long"
	}
	return true, ""
}

// ResolveUserFromRequest is the canonical caller-identity resolver. A
// signature-verified id wins and any conflicting id from header, query
// or body is a 403. Without a signature, backend and admin roles may
// name a user via body, X-User-ID header or query param; frontend
// callers get a 401. Returns (userID, 0, "") on success or a non-zero
// HTTP status with a message.
func ResolveUserFromRequest(r *http.Request, bodyUser string) (string, int, string) {
	if id := UserIDFromContext(r.Context()); id != "" {
		if q := strings.TrimSpace(r.URL.Query().Get("user")); q != "" && q != id {
			logger.Warn("user_mismatch_signature_query", zap.String("signature", id), zap.String("query", q), zap.String("path", r.URL.Path))
			return "", http.StatusForbidden, "user mismatch between signature and query param"
		}
		if h := strings.TrimSpace(r.Header.Get("X-User-ID")); h != "" && h != id {
			logger.Warn("user_mismatch_signature_header", zap.String("signature", id), zap.String("header", h), zap.String("path", r.URL.Path))
			return "", http.StatusForbidden, "user mismatch between signature and header"
		}
		if bodyUser != "" && bodyUser != id {
			logger.Warn("user_mismatch_signature_body", zap.String("signature", id), zap.String("body", bodyUser), zap.String("path", r.URL.Path))
			return "", http.StatusForbidden, "user mismatch between signature and body"
		}
		return id, 0, ""
	}

	role := r.Header.Get("X-Role-Name")
	if role == "backend" || role == "admin" {
		for _, candidate := range []string{bodyUser, strings.TrimSpace(r.Header.Get("X-User-ID")), strings.TrimSpace(r.URL.Query().Get("user"))} {
			if candidate == "" {
				continue
			}
			if ok, msg := validateUserID(candidate); !ok {
				logger.Warn("invalid_backend_user", zap.String("user", candidate), zap.String("path", r.URL.Path))
				return "", http.StatusBadRequest, msg
			}
			return candidate, 0, ""
		}
		logger.Warn("backend_missing_user", zap.String("path", r.URL.Path))
		return "", http.StatusBadRequest, "user required for backend requests"
	}

	logger.Warn("missing_user_signature", zap.String("role", role), zap.String("path", r.URL.Path))
	return "", http.StatusUnauthorized, "missing or invalid user signature"
}
