package app

import (
	"strings"

	"chatdb/pkg/config"
	"chatdb/pkg/models"
)

// Config-backed implementations of the directory's collaborator
// interfaces. Deployments with a real identity provider or object store
// swap these out at construction time.

type staticIdentity struct {
	users map[string]models.UserSummary
}

func newIdentity(cfg *config.Config) *staticIdentity {
	id := &staticIdentity{users: map[string]models.UserSummary{}}
	for _, u := range cfg.Directory.Users {
		id.users[u.ID] = models.UserSummary{ID: u.ID, DisplayName: u.DisplayName, ImageRef: u.ImageRef}
	}
	return id
}

func (s *staticIdentity) GetUser(userID string) (models.UserSummary, bool) {
	u, ok := s.users[userID]
	return u, ok
}

type runtimeAuthorizer struct{}

func newAuthorizer() runtimeAuthorizer { return runtimeAuthorizer{} }

func (runtimeAuthorizer) IsDirectoryAdmin(userID string) bool {
	return config.IsAdminUser(userID)
}

type baseURLMediaResolver struct {
	base string
}

func newMediaResolver(cfg *config.Config) baseURLMediaResolver {
	return baseURLMediaResolver{base: strings.TrimRight(cfg.Directory.MediaBaseURL, "/")}
}

// ResolveMedia joins the media ref onto the configured base URL.
// Absolute refs pass through untouched.
func (m baseURLMediaResolver) ResolveMedia(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if m.base == "" {
		return ref
	}
	return m.base + "/" + strings.TrimLeft(ref, "/")
}
