package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/utils"
)

// CreateChatParams carries the caller-supplied fields for a new chat.
type CreateChatParams struct {
	Name         string
	Description  string
	CreatorID    string
	Participants []string
	ImageRef     string
}

// CreateChat creates a group chat. The creator always ends up first in
// the participant list and is the initial admin.
func (d *ChatDirectory) CreateChat(ctx context.Context, p CreateChatParams) (models.Chat, error) {
	if p.CreatorID == "" {
		return models.Chat{}, cerr.Validation("creator id required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return models.Chat{}, cerr.Validation("chat name required")
	}
	now := time.Now().UTC().UnixNano()
	c := models.Chat{
		ID:           utils.GenChatID(),
		Name:         p.Name,
		Description:  p.Description,
		Kind:         models.KindGroup,
		CreatorID:    p.CreatorID,
		Participants: lo.Uniq(append([]string{p.CreatorID}, p.Participants...)),
		Admins:       []string{p.CreatorID},
		Gradient:     models.GradientForName(p.Name),
		ImageRef:     p.ImageRef,
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if err := d.store.SaveChat(ctx, c); err != nil {
		return models.Chat{}, err
	}
	logger.Info("chat_created", zap.String("chat", c.ID), zap.String("creator", p.CreatorID))
	return c, nil
}

// SavedChatID is the deterministic id of a user's saved-messages chat.
func SavedChatID(userID string) string { return "saved-" + userID }

// EnsureSavedChat returns the user's saved-messages chat, creating it on
// first use. The saved chat has exactly one participant, forever.
func (d *ChatDirectory) EnsureSavedChat(ctx context.Context, userID string) (models.Chat, error) {
	if userID == "" {
		return models.Chat{}, cerr.Validation("user id required")
	}
	id := SavedChatID(userID)
	if c, err := d.store.GetChat(id); err == nil {
		return c, nil
	} else if !errors.Is(err, cerr.ErrNotFound) {
		return models.Chat{}, err
	}
	now := time.Now().UTC().UnixNano()
	c := models.Chat{
		ID:           id,
		Name:         "Saved Messages",
		Kind:         models.KindSaved,
		CreatorID:    userID,
		Participants: []string{userID},
		Admins:       []string{userID},
		Gradient:     models.SavedGradient(),
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if err := d.store.SaveChat(ctx, c); err != nil {
		// lost a race with ourselves: somebody else just created it
		if errors.Is(err, cerr.ErrConflict) {
			return d.store.GetChat(id)
		}
		return models.Chat{}, err
	}
	logger.Info("saved_chat_created", zap.String("user", userID))
	return c, nil
}

// GetChat returns one chat for a viewer, with the message log, the
// resolved pinned message and the viewer's unread count. Opening a chat
// acknowledges everything in it, so the viewer's read pointer jumps to
// the log head as a side effect.
func (d *ChatDirectory) GetChat(ctx context.Context, chatID, viewerID string) (ChatView, error) {
	c, err := d.store.GetChat(chatID)
	if err != nil {
		return ChatView{}, err
	}
	if !c.HasParticipant(viewerID) && !d.isDirectoryAdmin(viewerID) {
		return ChatView{}, cerr.Unauthorized("user %s is not in chat %s", viewerID, chatID)
	}
	unread, err := d.reads.UnreadCountForChat(c, viewerID)
	if err != nil {
		return ChatView{}, err
	}
	msgs, err := d.store.ListMessages(chatID)
	if err != nil {
		return ChatView{}, err
	}
	view := ChatView{
		Chat:          c,
		Unread:        unread,
		LastMessage:   d.messageViewByID(c.LastMessageID),
		PinnedMessage: d.messageViewByID(c.PinnedMessageID),
		Messages:      lo.Map(msgs, func(m models.Message, _ int) MessageView { return d.messageView(m) }),
	}
	if c.HasParticipant(viewerID) && c.LastSeq > c.ReadPointer(viewerID) {
		if err := d.reads.MarkReadSeq(ctx, chatID, viewerID, c.LastSeq); err != nil {
			return ChatView{}, err
		}
	}
	return view, nil
}

// EditChatParams are the mutable chat fields; nil means leave unchanged.
type EditChatParams struct {
	Name        *string
	Description *string
	ImageRef    *string
}

// EditChat updates chat metadata. Chat admins only. Renaming does not
// recolor the chat; the gradient is fixed at creation.
func (d *ChatDirectory) EditChat(ctx context.Context, chatID, actorID string, p EditChatParams) (models.Chat, error) {
	return d.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if !c.HasAdmin(actorID) {
			return cerr.Unauthorized("user %s is not admin of chat %s", actorID, chatID)
		}
		if p.Name != nil {
			if strings.TrimSpace(*p.Name) == "" {
				return cerr.Validation("chat name required")
			}
			c.Name = *p.Name
		}
		if p.Description != nil {
			c.Description = *p.Description
		}
		if p.ImageRef != nil {
			c.ImageRef = *p.ImageRef
		}
		return nil
	})
}

// DeleteChat removes a chat and tombstones its log. Any authenticated
// caller may delete a group chat; a saved chat only its owner.
func (d *ChatDirectory) DeleteChat(ctx context.Context, chatID, actorID string) error {
	c, err := d.store.GetChat(chatID)
	if err != nil {
		return err
	}
	if c.Kind == models.KindSaved && c.CreatorID != actorID {
		return cerr.Unauthorized("saved chat belongs to %s", c.CreatorID)
	}
	if err := d.store.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	logger.Info("chat_deleted", zap.String("chat", chatID), zap.String("actor", actorID))
	return nil
}

// TogglePinned pins messageID on the chat, or clears the pin when the
// chat already pins that exact message. The slot holds at most one
// message; pinning over an existing pin replaces it.
func (d *ChatDirectory) TogglePinned(ctx context.Context, chatID, actorID, messageID string) (models.Chat, error) {
	if messageID == "" {
		return models.Chat{}, cerr.Validation("message id required")
	}
	return d.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if !c.HasParticipant(actorID) {
			return cerr.Unauthorized("user %s is not in chat %s", actorID, chatID)
		}
		if c.PinnedMessageID == messageID {
			c.PinnedMessageID = ""
			return nil
		}
		m, err := d.store.GetMessage(messageID)
		if err != nil {
			return err
		}
		if m.Chat != chatID {
			return cerr.Validation("message %s is not in chat %s", messageID, chatID)
		}
		if m.Deleted {
			return cerr.Conflict("message %s is deleted", messageID)
		}
		c.PinnedMessageID = messageID
		return nil
	})
}

// ChatListEntry is one row of a user's chat list.
type ChatListEntry struct {
	models.Chat
	Unread      int          `json:"unread"`
	LastMessage *MessageView `json:"last_message,omitempty"`
}

// ListUserChats returns every chat the user participates in, including
// their saved chat, newest activity first. Ordering key is the last live
// message's timestamp, falling back to chat creation time for empty
// chats; ties keep store order so repeated listings are stable.
func (d *ChatDirectory) ListUserChats(userID string) ([]ChatListEntry, error) {
	if userID == "" {
		return nil, cerr.Validation("user id required")
	}
	chats, err := d.store.ListChats()
	if err != nil {
		return nil, err
	}
	entries := make([]ChatListEntry, 0, len(chats))
	for _, c := range chats {
		if !c.HasParticipant(userID) {
			continue
		}
		unread, err := d.reads.UnreadCountForChat(c, userID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ChatListEntry{
			Chat:        c,
			Unread:      unread,
			LastMessage: d.messageViewByID(c.LastMessageID),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return activityTS(entries[i]) > activityTS(entries[j])
	})
	return entries, nil
}

func activityTS(e ChatListEntry) int64 {
	if e.LastMessage != nil {
		return e.LastMessage.TS
	}
	return e.CreatedTS
}

// ListAllChats returns every group chat with per-participant unread
// counts. Directory admins only; saved chats stay private.
func (d *ChatDirectory) ListAllChats(requesterID string) ([]ChatOverview, error) {
	if !d.isDirectoryAdmin(requesterID) {
		return nil, cerr.Unauthorized("user %s is not a directory admin", requesterID)
	}
	chats, err := d.store.ListChats()
	if err != nil {
		return nil, err
	}
	out := make([]ChatOverview, 0, len(chats))
	for _, c := range chats {
		if c.Kind == models.KindSaved {
			continue
		}
		unread, err := d.reads.UnreadCountsForChat(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ChatOverview{
			Chat:        c,
			Unread:      unread,
			LastMessage: d.messageViewByID(c.LastMessageID),
		})
	}
	return out, nil
}

// SearchChats matches group chats by case-insensitive name substring.
// Saved chats never match. Matches carry the same per-participant
// unread annotation as the chat listings.
func (d *ChatDirectory) SearchChats(query string) ([]ChatOverview, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []ChatOverview{}, nil
	}
	chats, err := d.store.ListChats()
	if err != nil {
		return nil, err
	}
	out := []ChatOverview{}
	for _, c := range chats {
		if c.Kind == models.KindSaved || !strings.Contains(strings.ToLower(c.Name), q) {
			continue
		}
		unread, err := d.reads.UnreadCountsForChat(c)
		if err != nil {
			return nil, err
		}
		out = append(out, ChatOverview{
			Chat:        c,
			Unread:      unread,
			LastMessage: d.messageViewByID(c.LastMessageID),
		})
	}
	return out, nil
}

// AddParticipant adds a user to a chat and records the join in the log.
// Chat admins only.
func (d *ChatDirectory) AddParticipant(ctx context.Context, chatID, actorID, userID string) (models.Chat, error) {
	if err := d.RequireChatAdmin(chatID, actorID); err != nil {
		return models.Chat{}, err
	}
	c, err := d.members.AddParticipant(ctx, chatID, userID)
	if err != nil {
		return models.Chat{}, err
	}
	d.recordMembershipEvent(ctx, chatID, userID+" joined the chat")
	return c, nil
}

// RemoveParticipant removes a user from a chat and records the departure
// in the log. Users may remove themselves; removing anyone else takes
// chat admin.
func (d *ChatDirectory) RemoveParticipant(ctx context.Context, chatID, actorID, userID string) (models.Chat, error) {
	if actorID != userID {
		if err := d.RequireChatAdmin(chatID, actorID); err != nil {
			return models.Chat{}, err
		}
	}
	before, err := d.store.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	c, err := d.members.RemoveParticipant(ctx, chatID, userID)
	if err != nil {
		return models.Chat{}, err
	}
	if before.HasParticipant(userID) {
		d.recordMembershipEvent(ctx, chatID, userID+" left the chat")
	}
	return c, nil
}

// recordMembershipEvent appends a system message; the membership change
// is already committed, so a failed event is only a missing log line.
func (d *ChatDirectory) recordMembershipEvent(ctx context.Context, chatID, body string) {
	if _, err := d.AppendSystemMessage(ctx, chatID, body); err != nil {
		logger.Warn("membership_event_append_failed", zap.String("chat", chatID), zap.Error(err))
	}
}

// RequireChatAdmin errors unless actorID holds admin on the chat.
func (d *ChatDirectory) RequireChatAdmin(chatID, actorID string) error {
	c, err := d.store.GetChat(chatID)
	if err != nil {
		return err
	}
	if !c.HasAdmin(actorID) {
		return cerr.Unauthorized("user %s is not admin of chat %s", actorID, chatID)
	}
	return nil
}

func (d *ChatDirectory) isDirectoryAdmin(userID string) bool {
	return d.authz != nil && d.authz.IsDirectoryAdmin(userID)
}
