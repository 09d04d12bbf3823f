// Package migrate performs upgrade work between chatdb versions. The
// stored version lives in the database itself; Run compares it against
// the running binary and applies any pending migrations once.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
	"chatdb/pkg/store"
)

const (
	systemVersionKey    = "system:version"
	systemInProgressKey = "system:migration_in_progress"
)

// errSkip aborts a MutateChat that found nothing to repair.
var errSkip = errors.New("migrate: nothing to do")

// Run checks for a version change and applies migrations if needed.
// Returns (invoked, error): invoked is true if migrations ran.
func Run(ctx context.Context, s *store.Store, newVersion string) (bool, error) {
	stored, err := s.GetKey(systemVersionKey)
	if err != nil && !errors.Is(err, cerr.ErrNotFound) {
		logger.Error("migrate_read_version_failed", zap.Error(err))
		return false, err
	}
	if stored == newVersion {
		return false, nil
	}
	logger.Info("migrate_version_changed", zap.String("from", stored), zap.String("to", newVersion))

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := s.SaveKey(systemInProgressKey, mb); err != nil {
		logger.Error("migrate_write_inprogress_failed", zap.Error(err))
		return true, err
	}

	if err := apply(ctx, s); err != nil {
		logger.Error("migrate_failed", zap.String("from", stored), zap.String("to", newVersion), zap.Error(err))
		return true, err
	}

	if err := s.SaveKey(systemVersionKey, []byte(newVersion)); err != nil {
		logger.Error("migrate_persist_version_failed", zap.String("version", newVersion), zap.Error(err))
		return true, err
	}
	if err := s.DeleteKey(systemInProgressKey); err != nil {
		logger.Error("migrate_delete_inprogress_failed", zap.Error(err))
	}
	logger.Info("migrate_version_persisted", zap.String("version", newVersion))
	return true, nil
}

// apply runs the migration set. Every step must be idempotent: a crash
// between steps leaves the in-progress marker behind and the whole set
// reruns on the next start.
func apply(ctx context.Context, s *store.Store) error {
	chats, err := s.ListChats()
	if err != nil {
		logger.Error("migrate_list_chats_failed", zap.Error(err))
		return err
	}
	for _, c := range chats {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Backfill LastSeq for chats written before the high-water mark
		// existed, and clamp read pointers that exceed it. Both derive
		// from the message log, so recomputing is always safe.
		msgs, err := s.ListMessages(c.ID)
		if err != nil {
			logger.Error("migrate_list_messages_failed", zap.String("chat", c.ID), zap.Error(err))
			continue
		}
		var maxSeq int64
		if len(msgs) > 0 {
			maxSeq = msgs[len(msgs)-1].Seq
		}

		var skipped bool
		repaired, err := s.MutateChat(ctx, c.ID, func(c *models.Chat) error {
			changed := false
			if c.LastSeq < maxSeq {
				c.LastSeq = maxSeq
				changed = true
			}
			for uid, seq := range c.LastRead {
				if seq > c.LastSeq {
					c.LastRead[uid] = c.LastSeq
					changed = true
				}
			}
			if !changed {
				skipped = true
				return errSkip
			}
			c.UpdatedTS = time.Now().UTC().UnixNano()
			return nil
		})
		if err != nil {
			if skipped {
				continue
			}
			logger.Error("migrate_save_chat_failed", zap.String("chat", c.ID), zap.Error(err))
			continue
		}
		logger.Info("migrate_chat_repaired", zap.String("chat", c.ID), zap.Int64("last_seq", repaired.LastSeq))
	}
	return nil
}
