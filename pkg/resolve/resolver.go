// Package resolve follows reply and forward references between messages.
// A missing or deleted target is a normal outcome here, not a fault: the
// resolver reports it as an unavailable Resolution and never as an error.
package resolve

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chatdb/pkg/models"
	"chatdb/pkg/store"
)

var unavailableResolutions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatdb_resolution_unavailable_total",
	Help: "Reference resolutions that ended at a tombstone or missing target.",
})

// ChatSummary is the slice of chat metadata shown on a forwarded message.
type ChatSummary struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Gradient models.Gradient `json:"gradient"`
	ImageRef string          `json:"image_ref,omitempty"`
}

// Resolution is the outcome of following a reference. When Available is
// false the target (or its chat) is gone and the other fields are zero.
type Resolution struct {
	Available bool            `json:"available"`
	Message   *models.Message `json:"message,omitempty"`
	Chat      *ChatSummary    `json:"chat,omitempty"`
}

// Unavailable is the well-defined tombstone result.
func Unavailable() Resolution {
	unavailableResolutions.Inc()
	return Resolution{}
}

// Resolver resolves reply-to and forward-from links against the store.
type Resolver struct {
	store *store.Store
}

// New returns a Resolver over the given store.
func New(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// ResolveReply resolves the replied-to message of msg. Replies always
// point within the same chat, so no chat summary is attached.
func (r *Resolver) ResolveReply(msg models.Message) Resolution {
	if msg.Kind != models.KindReply || msg.RefMessageID == "" {
		return Unavailable()
	}
	target, err := r.store.GetMessage(msg.RefMessageID)
	if err != nil || target.Deleted || target.Chat != msg.Chat {
		return Unavailable()
	}
	return Resolution{Available: true, Message: &target}
}

// ResolveForward resolves the original message of a forward. Forward
// chains (a forward of a forward) are followed iteratively to the nearest
// available original in this single call — never by recursive expansion —
// and a seen-set stops the walk if a corrupt chain revisits an id, in
// which case the last valid hop is returned.
func (r *Resolver) ResolveForward(msg models.Message) Resolution {
	if msg.Kind != models.KindForward || msg.RefMessageID == "" {
		return Unavailable()
	}

	seen := map[string]struct{}{msg.ID: {}}
	var current *models.Message

	next := msg.RefMessageID
	for next != "" {
		if _, dup := seen[next]; dup {
			break
		}
		target, err := r.store.GetMessage(next)
		if err != nil || target.Deleted {
			break
		}
		seen[next] = struct{}{}
		current = &target
		if target.Kind != models.KindForward {
			break
		}
		next = target.RefMessageID
	}

	if current == nil {
		return Unavailable()
	}

	res := Resolution{Available: true, Message: current}
	if chat, err := r.store.GetChat(current.Chat); err == nil {
		res.Chat = &ChatSummary{
			ID:       chat.ID,
			Name:     chat.Name,
			Gradient: chat.Gradient,
			ImageRef: chat.ImageRef,
		}
	}
	// a forward whose origin chat is gone stays available as bare content
	return res
}

// ResolveRef dispatches on the message kind; non-referencing kinds yield
// an unavailable result without touching the store.
func (r *Resolver) ResolveRef(msg models.Message) Resolution {
	switch msg.Kind {
	case models.KindReply:
		return r.ResolveReply(msg)
	case models.KindForward:
		return r.ResolveForward(msg)
	}
	return Resolution{}
}
