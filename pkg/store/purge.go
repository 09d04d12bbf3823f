package store

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"chatdb/pkg/logger"
	"chatdb/pkg/models"
)

// PurgeTombstones physically removes message tombstones older than
// cutoffTS (unix nanos) along with their id-index entries. Until purged,
// tombstones keep reply/forward references resolvable; after the retention
// window those references degrade to "never existed", which callers treat
// the same as "unavailable". Returns how many tombstones were removed (or
// would be, under dryRun).
func (s *Store) PurgeTombstones(ctx context.Context, cutoffTS int64, batchSize int, dryRun bool) (int, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	prefix := []byte(chatPrefix)
	purged := 0
	batch := s.db.NewBatch()
	defer batch.Close()
	pending := 0

	flush := func() error {
		if pending == 0 || dryRun {
			batch.Reset()
			pending = 0
			return nil
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return err
		}
		batch.Reset()
		pending = 0
		return nil
	}

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.Contains(iter.Key(), []byte(":msg:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted || m.TS >= cutoffTS {
			continue
		}
		_ = batch.Delete(append([]byte(nil), iter.Key()...), nil)
		_ = batch.Delete(msgIdxKey(m.ID), nil)
		purged++
		pending++
		if pending >= batchSize {
			if err := flush(); err != nil {
				return purged, err
			}
		}
	}
	if err := flush(); err != nil {
		return purged, err
	}
	if !dryRun {
		tombstonesPurged.Add(float64(purged))
	}
	logger.Info("tombstones_purged", zap.Int("count", purged), zap.Bool("dry_run", dryRun))
	return purged, iter.Error()
}
