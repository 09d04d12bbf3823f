package models

// MessageKind enumerates the supported message types.
type MessageKind string

const (
	KindText    MessageKind = "text"
	KindImage   MessageKind = "image"
	KindVoice   MessageKind = "voice"
	KindPoll    MessageKind = "poll"
	KindReply   MessageKind = "reply"
	KindForward MessageKind = "forward"
	KindSystem  MessageKind = "system"
)

// ValidKind reports whether k is one of the supported message kinds.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindImage, KindVoice, KindPoll, KindReply, KindForward, KindSystem:
		return true
	}
	return false
}

// Message is one entry in a chat's append-only log. Seq is assigned at
// append time and is the sole ordering key; wall-clock TS is informational.
// A message is immutable after append except for Body (edit), Reactions,
// and SeenBy. Deleted messages stay in place as tombstones so reply and
// forward references keep resolving.
type Message struct {
	ID     string      `json:"id"`
	Chat   string      `json:"chat"`
	Seq    int64       `json:"seq"`
	Sender string      `json:"sender,omitempty"` // empty for system messages
	Kind   MessageKind `json:"kind"`
	Body   string      `json:"body,omitempty"`
	// MediaRef is an opaque handle resolved by the media collaborator.
	MediaRef string `json:"media_ref,omitempty"`
	PollRef  string `json:"poll_ref,omitempty"`
	// RefMessageID is a weak reference: the replied-to message for kind
	// "reply" (same chat), the original message for kind "forward" (any chat).
	RefMessageID string `json:"ref_message_id,omitempty"`
	// Reactions maps a reaction symbol to the users who set it; a user
	// appears at most once per symbol.
	Reactions map[string][]string `json:"reactions,omitempty"`
	Edited    bool                `json:"edited,omitempty"`
	// SeenBy lists user ids that acknowledged this message (read-receipt
	// fan-out; distinct from the per-participant read pointers).
	SeenBy  []string `json:"seen_by,omitempty"`
	TS      int64    `json:"ts"`
	Deleted bool     `json:"deleted,omitempty"`
}

// Tombstone strips a message down to the identity fields kept after delete.
func (m Message) Tombstone() Message {
	return Message{
		ID:      m.ID,
		Chat:    m.Chat,
		Seq:     m.Seq,
		Kind:    m.Kind,
		TS:      m.TS,
		Deleted: true,
	}
}

// HasReaction reports whether user already reacted with symbol.
func (m Message) HasReaction(symbol, user string) bool {
	for _, u := range m.Reactions[symbol] {
		if u == user {
			return true
		}
	}
	return false
}

// ToggleReaction adds the user under symbol, or removes them when present.
func (m *Message) ToggleReaction(symbol, user string) {
	if m.Reactions == nil {
		m.Reactions = map[string][]string{}
	}
	users := m.Reactions[symbol]
	for i, u := range users {
		if u == user {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(m.Reactions, symbol)
			} else {
				m.Reactions[symbol] = users
			}
			return
		}
	}
	m.Reactions[symbol] = append(users, user)
}

// MarkSeenBy records userID in SeenBy once.
func (m *Message) MarkSeenBy(userID string) {
	for _, u := range m.SeenBy {
		if u == userID {
			return
		}
	}
	m.SeenBy = append(m.SeenBy, userID)
}
