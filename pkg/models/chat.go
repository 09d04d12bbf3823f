package models

// ChatKind separates regular group chats from single-user saved archives.
type ChatKind string

const (
	KindGroup ChatKind = "group"
	KindSaved ChatKind = "saved"
)

// Chat is the metadata record for one conversation. Participants keeps join
// order, which drives admin promotion and stable tie-breaks; membership
// checks treat it as a set. LastSeq is the high-water mark of the chat's
// message log and the source of new sequence ids.
type Chat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Kind         ChatKind `json:"kind"`
	CreatorID    string   `json:"creator_id"`
	Participants []string `json:"participants"`
	Admins       []string `json:"admins"`
	// LastMessageID tracks the highest-seq live message, "" before the
	// first append or after the whole log is tombstoned.
	LastMessageID   string `json:"last_message_id,omitempty"`
	PinnedMessageID string `json:"pinned_message_id,omitempty"`
	LastSeq         int64  `json:"last_seq"`
	// LastRead maps participant id to the highest message seq they have
	// acknowledged; absent entry means never read.
	LastRead  map[string]int64 `json:"last_read,omitempty"`
	Gradient  Gradient         `json:"gradient"`
	ImageRef  string           `json:"image_ref,omitempty"`
	CreatedTS int64            `json:"created_ts"`
	UpdatedTS int64            `json:"updated_ts"`
}

// HasParticipant reports membership.
func (c Chat) HasParticipant(userID string) bool {
	for _, u := range c.Participants {
		if u == userID {
			return true
		}
	}
	return false
}

// HasAdmin reports whether userID holds admin rights on this chat.
func (c Chat) HasAdmin(userID string) bool {
	for _, u := range c.Admins {
		if u == userID {
			return true
		}
	}
	return false
}

// ReadPointer returns the user's last-read seq, 0 when never read.
func (c Chat) ReadPointer(userID string) int64 {
	if c.LastRead == nil {
		return 0
	}
	return c.LastRead[userID]
}
