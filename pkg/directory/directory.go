// Package directory is the application core: it composes the store, the
// read-state tracker, the reference resolver and the membership manager
// behind one facade that the HTTP handlers call. All authorization that
// depends on chat state (participant, chat admin, sender) lives here;
// transport-level auth stays in pkg/auth.
package directory

import (
	"chatdb/pkg/membership"
	"chatdb/pkg/models"
	"chatdb/pkg/readstate"
	"chatdb/pkg/resolve"
	"chatdb/pkg/store"
)

// Identity supplies display metadata for user ids. Lookups that miss are
// not errors; callers render a bare id.
type Identity interface {
	GetUser(userID string) (models.UserSummary, bool)
}

// AdminAuthorizer decides service-wide admin rights, distinct from
// per-chat admin roles.
type AdminAuthorizer interface {
	IsDirectoryAdmin(userID string) bool
}

// MediaResolver turns stored media refs into fetchable URLs.
type MediaResolver interface {
	ResolveMedia(ref string) string
}

// ChatDirectory is the conversation service facade.
type ChatDirectory struct {
	store    *store.Store
	reads    *readstate.Tracker
	refs     *resolve.Resolver
	members  *membership.Manager
	identity Identity
	authz    AdminAuthorizer
	media    MediaResolver
}

// New wires a ChatDirectory over the given store and collaborators.
func New(s *store.Store, id Identity, authz AdminAuthorizer, media MediaResolver) *ChatDirectory {
	return &ChatDirectory{
		store:    s,
		reads:    readstate.New(s),
		refs:     resolve.New(s),
		members:  membership.New(s),
		identity: id,
		authz:    authz,
		media:    media,
	}
}

// Store exposes the underlying store for admin tooling.
func (d *ChatDirectory) Store() *store.Store { return d.store }

// Members exposes the membership manager for the participants endpoints.
func (d *ChatDirectory) Members() *membership.Manager { return d.members }

// MessageView is a message decorated for rendering: sender metadata,
// resolved reply/forward reference and a fetchable media URL.
type MessageView struct {
	models.Message
	SenderInfo *models.UserSummary `json:"sender_info,omitempty"`
	Ref        *resolve.Resolution `json:"ref,omitempty"`
	MediaURL   string              `json:"media_url,omitempty"`
}

// ChatView is a single chat as shown to one viewer.
type ChatView struct {
	models.Chat
	Unread        int           `json:"unread"`
	LastMessage   *MessageView  `json:"last_message,omitempty"`
	PinnedMessage *MessageView  `json:"pinned_message,omitempty"`
	Messages      []MessageView `json:"messages,omitempty"`
}

// ChatOverview is a chat as shown on the admin listing, with unread
// counts for every participant instead of one viewer.
type ChatOverview struct {
	models.Chat
	Unread      map[string]int `json:"unread"`
	LastMessage *MessageView   `json:"last_message,omitempty"`
}

func (d *ChatDirectory) messageView(m models.Message) MessageView {
	v := MessageView{Message: m}
	if d.identity != nil {
		if u, ok := d.identity.GetUser(m.Sender); ok {
			v.SenderInfo = &u
		}
	}
	if m.Kind == models.KindReply || m.Kind == models.KindForward {
		r := d.refs.ResolveRef(m)
		v.Ref = &r
	}
	if m.MediaRef != "" && d.media != nil {
		v.MediaURL = d.media.ResolveMedia(m.MediaRef)
	}
	return v
}

func (d *ChatDirectory) messageViewByID(msgID string) *MessageView {
	if msgID == "" {
		return nil
	}
	m, err := d.store.GetMessage(msgID)
	if err != nil || m.Deleted {
		return nil
	}
	v := d.messageView(m)
	return &v
}
