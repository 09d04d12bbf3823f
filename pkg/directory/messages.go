package directory

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/utils"
)

// AppendMessageParams carries the sender-supplied fields of a new message.
type AppendMessageParams struct {
	Sender       string
	Kind         models.MessageKind
	Body         string
	MediaRef     string
	PollRef      string
	RefMessageID string
}

// AppendMessage appends one message to a chat's log. The sender must be
// a participant; reply targets must be live messages of the same chat,
// forward sources any live message the sender can name. Sending also
// advances the sender's own read pointer to the new message, so your own
// messages never count as unread to you.
func (d *ChatDirectory) AppendMessage(ctx context.Context, chatID string, p AppendMessageParams) (MessageView, error) {
	if p.Sender == "" {
		return MessageView{}, cerr.Validation("sender required")
	}
	if !models.ValidKind(p.Kind) {
		return MessageView{}, cerr.Validation("unknown message kind %q", p.Kind)
	}

	c, err := d.store.GetChat(chatID)
	if err != nil {
		return MessageView{}, err
	}
	if !c.HasParticipant(p.Sender) {
		return MessageView{}, cerr.Unauthorized("user %s is not in chat %s", p.Sender, chatID)
	}

	switch p.Kind {
	case models.KindReply:
		target, err := d.store.GetMessage(p.RefMessageID)
		if err != nil {
			return MessageView{}, cerr.Validation("reply target %s not found", p.RefMessageID)
		}
		if target.Deleted {
			return MessageView{}, cerr.Conflict("reply target %s is deleted", p.RefMessageID)
		}
		if target.Chat != chatID {
			return MessageView{}, cerr.Validation("reply target %s is not in chat %s", p.RefMessageID, chatID)
		}
	case models.KindForward:
		target, err := d.store.GetMessage(p.RefMessageID)
		if err != nil {
			return MessageView{}, cerr.Validation("forward source %s not found", p.RefMessageID)
		}
		if target.Deleted {
			return MessageView{}, cerr.Conflict("forward source %s is deleted", p.RefMessageID)
		}
	case models.KindPoll:
		if p.PollRef == "" {
			return MessageView{}, cerr.Validation("poll ref required")
		}
	case models.KindImage, models.KindVoice:
		if p.MediaRef == "" {
			return MessageView{}, cerr.Validation("media ref required")
		}
	}

	m := models.Message{
		ID:           utils.GenMessageID(),
		Chat:         chatID,
		Sender:       p.Sender,
		Kind:         p.Kind,
		Body:         p.Body,
		MediaRef:     p.MediaRef,
		PollRef:      p.PollRef,
		RefMessageID: p.RefMessageID,
		TS:           time.Now().UTC().UnixNano(),
	}
	if err := d.store.AppendMessage(ctx, chatID, &m); err != nil {
		return MessageView{}, err
	}
	if err := d.reads.MarkReadSeq(ctx, chatID, p.Sender, m.Seq); err != nil {
		// the message is committed; a lost pointer advance only costs
		// the sender a phantom unread
		logger.Warn("read_pointer_advance_failed", zap.String("chat", chatID), zap.Error(err))
	}
	return d.messageView(m), nil
}

// AppendSystemMessage records a membership or metadata event in the log.
// System messages have no sender and bypass participant checks.
func (d *ChatDirectory) AppendSystemMessage(ctx context.Context, chatID, body string) (models.Message, error) {
	m := models.Message{
		ID:   utils.GenMessageID(),
		Chat: chatID,
		Kind: models.KindSystem,
		Body: body,
		TS:   time.Now().UTC().UnixNano(),
	}
	if err := d.store.AppendMessage(ctx, chatID, &m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// EditMessage replaces a message body. Only the sender may edit, and
// only kinds that carry a body.
func (d *ChatDirectory) EditMessage(ctx context.Context, msgID, actorID, body string) (MessageView, error) {
	m, err := d.store.UpdateMessage(ctx, msgID, func(m *models.Message) error {
		if m.Sender != actorID {
			return cerr.Unauthorized("message %s belongs to %s", msgID, m.Sender)
		}
		if m.Kind == models.KindSystem || m.Kind == models.KindForward {
			return cerr.Validation("%s messages cannot be edited", m.Kind)
		}
		m.Body = body
		m.Edited = true
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}
	return d.messageView(m), nil
}

// DeleteMessage tombstones a message. The sender may always delete their
// own; chat admins may delete anything in their chat.
func (d *ChatDirectory) DeleteMessage(ctx context.Context, msgID, actorID string) error {
	m, err := d.store.GetMessage(msgID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	if m.Sender != actorID {
		c, err := d.store.GetChat(m.Chat)
		if err != nil {
			return err
		}
		if !c.HasAdmin(actorID) {
			return cerr.Unauthorized("user %s may not delete message %s", actorID, msgID)
		}
	}
	if err := d.store.DeleteMessage(ctx, msgID); err != nil {
		return err
	}
	logger.Info("message_deleted", zap.String("msg", msgID), zap.String("chat", m.Chat), zap.String("actor", actorID))
	return nil
}

// ToggleReaction adds the user's reaction under symbol, or removes it if
// already present. Participants only.
func (d *ChatDirectory) ToggleReaction(ctx context.Context, msgID, userID, symbol string) (MessageView, error) {
	if symbol == "" {
		return MessageView{}, cerr.Validation("reaction symbol required")
	}
	m, err := d.store.UpdateMessage(ctx, msgID, func(m *models.Message) error {
		c, err := d.store.GetChat(m.Chat)
		if err != nil {
			return err
		}
		if !c.HasParticipant(userID) {
			return cerr.Unauthorized("user %s is not in chat %s", userID, m.Chat)
		}
		m.ToggleReaction(symbol, userID)
		return nil
	})
	if err != nil {
		return MessageView{}, err
	}
	return d.messageView(m), nil
}

// MarkSeen records that userID has rendered the message.
func (d *ChatDirectory) MarkSeen(ctx context.Context, msgID, userID string) error {
	if userID == "" {
		return cerr.Validation("user id required")
	}
	_, err := d.store.UpdateMessage(ctx, msgID, func(m *models.Message) error {
		m.MarkSeenBy(userID)
		return nil
	})
	return err
}

// MarkRead moves the user's read pointer to the given message.
func (d *ChatDirectory) MarkRead(ctx context.Context, chatID, userID, messageID string) error {
	c, err := d.store.GetChat(chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(userID) {
		return cerr.Unauthorized("user %s is not in chat %s", userID, chatID)
	}
	return d.reads.MarkRead(ctx, chatID, userID, messageID)
}

// GetMessageView returns one message decorated for rendering. Deleted
// messages come back as bare tombstones with the deleted flag set.
// Participants only.
func (d *ChatDirectory) GetMessageView(msgID, viewerID string) (MessageView, error) {
	m, err := d.store.GetMessage(msgID)
	if err != nil {
		return MessageView{}, err
	}
	if err := d.requireParticipant(m.Chat, viewerID); err != nil {
		return MessageView{}, err
	}
	if m.Deleted {
		return MessageView{Message: m}, nil
	}
	return d.messageView(m), nil
}

// ListMessages returns a chat's live messages in log order, decorated
// for rendering. Participants only.
func (d *ChatDirectory) ListMessages(chatID, viewerID string, limit ...int) ([]MessageView, error) {
	if err := d.requireParticipant(chatID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := d.store.ListMessages(chatID, limit...)
	if err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m models.Message, _ int) MessageView { return d.messageView(m) }), nil
}

// SearchMessages matches a chat's live messages by case-insensitive body
// substring. Participants only.
func (d *ChatDirectory) SearchMessages(chatID, viewerID, query string) ([]MessageView, error) {
	if err := d.requireParticipant(chatID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := d.store.SearchMessages(chatID, query)
	if err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m models.Message, _ int) MessageView { return d.messageView(m) }), nil
}

func (d *ChatDirectory) requireParticipant(chatID, viewerID string) error {
	c, err := d.store.GetChat(chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(viewerID) && !d.isDirectoryAdmin(viewerID) {
		return cerr.Unauthorized("user %s is not in chat %s", viewerID, chatID)
	}
	return nil
}
