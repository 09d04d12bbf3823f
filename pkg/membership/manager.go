// Package membership manages chat participant and admin sets.
package membership

import (
	"context"
	"errors"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/store"
)

var errNoop = errors.New("noop")

// Manager applies participant and admin changes one chat at a time,
// serialized by the store's per-chat lock.
type Manager struct {
	store *store.Store
}

func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// AddParticipant appends userID to the chat's participant list. Adding a
// user who is already present is a conflict.
func (m *Manager) AddParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	if userID == "" {
		return models.Chat{}, cerr.Validation("user id required")
	}
	c, err := m.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if c.Kind == models.KindSaved {
			return cerr.Conflict("saved chat membership is fixed")
		}
		if c.HasParticipant(userID) {
			return cerr.Conflict("user %s already in chat", userID)
		}
		c.Participants = append(c.Participants, userID)
		return nil
	})
	if err != nil {
		return models.Chat{}, err
	}
	logger.Info("participant_added", zap.String("chat", chatID), zap.String("user", userID))
	return c, nil
}

// RemoveParticipant removes userID from the chat along with any admin
// role and read pointer. Removing a user who is not present is a no-op.
// If the departing user was the only admin, the earliest-joined remaining
// participant is promoted so the chat never ends up adminless. Removing
// the last remaining participant is rejected; delete the chat instead.
func (m *Manager) RemoveParticipant(ctx context.Context, chatID, userID string) (models.Chat, error) {
	c, err := m.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if c.Kind == models.KindSaved {
			return cerr.Conflict("saved chat membership is fixed")
		}
		if !c.HasParticipant(userID) {
			return errNoop
		}
		if len(c.Participants) == 1 {
			return cerr.Conflict("cannot remove last participant of chat %s", chatID)
		}
		c.Participants = lo.Without(c.Participants, userID)
		wasAdmin := c.HasAdmin(userID)
		c.Admins = lo.Without(c.Admins, userID)
		delete(c.LastRead, userID)
		if wasAdmin && len(c.Admins) == 0 {
			// participants keep join order, so index 0 is earliest-joined
			promoted := c.Participants[0]
			c.Admins = append(c.Admins, promoted)
			logger.Info("admin_promoted", zap.String("chat", chatID), zap.String("user", promoted))
		}
		return nil
	})
	if errors.Is(err, errNoop) {
		return m.store.GetChat(chatID)
	}
	if err != nil {
		return models.Chat{}, err
	}
	logger.Info("participant_removed", zap.String("chat", chatID), zap.String("user", userID))
	return c, nil
}

// PromoteAdmin grants admin to an existing participant.
func (m *Manager) PromoteAdmin(ctx context.Context, chatID, userID string) (models.Chat, error) {
	return m.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if !c.HasParticipant(userID) {
			return cerr.NotFound("user %s not in chat", userID)
		}
		if c.HasAdmin(userID) {
			return cerr.Conflict("user %s already admin", userID)
		}
		c.Admins = append(c.Admins, userID)
		return nil
	})
}

// DemoteAdmin revokes admin from a participant. Demoting the sole admin
// is rejected.
func (m *Manager) DemoteAdmin(ctx context.Context, chatID, userID string) (models.Chat, error) {
	return m.store.MutateChat(ctx, chatID, func(c *models.Chat) error {
		if !c.HasAdmin(userID) {
			return cerr.NotFound("user %s is not admin", userID)
		}
		if len(c.Admins) == 1 {
			return cerr.Conflict("cannot demote sole admin of chat %s", chatID)
		}
		c.Admins = lo.Without(c.Admins, userID)
		return nil
	})
}
