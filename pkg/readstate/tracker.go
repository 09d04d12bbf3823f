// Package readstate derives per-participant unread counts from last-read
// pointers instead of stored counters. Pointers only ever move forward, so
// racing read-marks and message deliveries cannot make counts drift.
package readstate

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/store"
)

var readMarks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "chatdb_read_marks_total",
	Help: "Read-pointer advances recorded (regressions excluded).",
})

// Tracker maintains last-read pointers stored on the chat metadata record.
type Tracker struct {
	store *store.Store
}

// New returns a Tracker over the given store.
func New(s *store.Store) *Tracker {
	return &Tracker{store: s}
}

// MarkRead advances userID's pointer on the chat to the given message.
// The pointer is monotonic: marking an older message than the current
// pointer is silently ignored, which is also how racing calls resolve —
// the higher seq wins regardless of completion order.
func (t *Tracker) MarkRead(ctx context.Context, chatID, userID, messageID string) error {
	if userID == "" {
		return cerr.Validation("userId is required")
	}
	msg, err := t.store.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg.Chat != chatID {
		return cerr.Validation("message %s does not belong to chat %s", messageID, chatID)
	}
	_, err = t.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if c.LastRead == nil {
			c.LastRead = map[string]int64{}
		}
		if msg.Seq <= c.LastRead[userID] {
			return errNoop
		}
		c.LastRead[userID] = msg.Seq
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return err
	}
	readMarks.Inc()
	logger.Debug("read_marked", zap.String("chat", chatID), zap.String("user", userID), zap.Int64("seq", msg.Seq))
	return nil
}

// MarkReadSeq is MarkRead for callers that already hold the message seq,
// sparing the id-index lookup (used by the view-chat side effect).
func (t *Tracker) MarkReadSeq(ctx context.Context, chatID, userID string, seq int64) error {
	if userID == "" {
		return cerr.Validation("userId is required")
	}
	_, err := t.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if c.LastRead == nil {
			c.LastRead = map[string]int64{}
		}
		if seq <= c.LastRead[userID] {
			return errNoop
		}
		c.LastRead[userID] = seq
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return err
	}
	readMarks.Inc()
	return nil
}

// UnreadCount returns the number of live messages past userID's pointer.
// A user with no recorded pointer has the whole log unread.
func (t *Tracker) UnreadCount(chatID, userID string) (int, error) {
	c, err := t.store.GetChat(chatID)
	if err != nil {
		return 0, err
	}
	return t.store.CountAfter(chatID, c.ReadPointer(userID))
}

// UnreadCountForChat computes the unread count against an already-loaded
// chat record, saving the metadata read when listing many chats.
func (t *Tracker) UnreadCountForChat(c models.Chat, userID string) (int, error) {
	return t.store.CountAfter(c.ID, c.ReadPointer(userID))
}

// UnreadCountsForAllParticipants returns the unread count of every
// participant with one scan of the chat's log.
func (t *Tracker) UnreadCountsForAllParticipants(chatID string) (map[string]int, error) {
	c, err := t.store.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	return t.UnreadCountsForChat(c)
}

// UnreadCountsForChat is UnreadCountsForAllParticipants against an
// already-loaded chat record.
func (t *Tracker) UnreadCountsForChat(c models.Chat) (map[string]int, error) {
	pointers := make(map[string]int64, len(c.Participants))
	for _, u := range c.Participants {
		pointers[u] = c.ReadPointer(u)
	}
	return t.store.CountsAfter(c.ID, pointers)
}

// errNoop aborts a MutateChat without writing; used for ignored regressions.
var errNoop = errors.New("noop")
