// Package store is the persistence layer of the conversation core: chat
// metadata records plus an append-only, sequence-ordered message log per
// chat, both kept in Pebble.
//
// Key layout:
//
//	chat:<chatID>:meta            chat metadata JSON
//	chat:<chatID>:msg:<seq pad20> message JSON, ordered range scans
//	msgidx:<msgID>                locator {chat, seq} for id lookups
//
// The zero-padded sequence id in the message key makes lexicographic key
// order equal to append order, so range scans and unread counts never
// depend on wall-clock timestamps.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"chatdb/pkg/cerr"
	"chatdb/pkg/logger"
	"chatdb/pkg/models"
)

const (
	chatPrefix   = "chat:"
	msgIdxPrefix = "msgidx:"
)

// Store is an opened chat database. All mutating operations on one chat
// serialize on that chat's lock; operations on different chats proceed
// independently.
type Store struct {
	db    *pebble.DB
	path  string
	locks sync.Map // chatID -> *sync.Mutex
}

// msgLocator is the value stored under msgidx keys.
type msgLocator struct {
	Chat string `json:"chat"`
	Seq  int64  `json:"seq"`
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	logger.Info("pebble_opened", zap.String("path", path))
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying pebble DB.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// Path returns the DB path the store was opened with.
func (s *Store) Path() string { return s.path }

func chatMetaKey(chatID string) []byte {
	return []byte(chatPrefix + chatID + ":meta")
}

func chatMsgPrefix(chatID string) []byte {
	return []byte(chatPrefix + chatID + ":msg:")
}

func msgKey(chatID string, seq int64) []byte {
	return []byte(fmt.Sprintf("%s%s:msg:%020d", chatPrefix, chatID, seq))
}

func msgIdxKey(msgID string) []byte {
	return []byte(msgIdxPrefix + msgID)
}

// chatLock returns the mutex serializing mutations for one chat.
func (s *Store) chatLock(chatID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(chatID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SaveChat creates a chat metadata record. Creation runs under the chat
// lock and refuses to overwrite an existing record, so racing creators
// of a deterministic id (saved chats) resolve to one winner instead of
// the loser resetting LastSeq. Existing chats must go through MutateChat.
func (s *Store) SaveChat(ctx context.Context, c models.Chat) error {
	mu := s.chatLock(c.ID)
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.GetChat(c.ID); err == nil {
		return cerr.Conflict("chat %s already exists", c.ID)
	} else if !errors.Is(err, cerr.ErrNotFound) {
		return err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	if err := s.db.Set(chatMetaKey(c.ID), b, pebble.Sync); err != nil {
		logger.Error("save_chat_failed", zap.String("chat", c.ID), zap.Error(err))
		return err
	}
	logger.Debug("chat_saved", zap.String("chat", c.ID))
	return nil
}

// GetChat returns the chat metadata record for id.
func (s *Store) GetChat(chatID string) (models.Chat, error) {
	v, closer, err := s.db.Get(chatMetaKey(chatID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Chat{}, cerr.NotFound("chat %s", chatID)
		}
		return models.Chat{}, err
	}
	defer closer.Close()
	var c models.Chat
	if err := json.Unmarshal(v, &c); err != nil {
		return models.Chat{}, fmt.Errorf("invalid chat metadata: %w", err)
	}
	return c, nil
}

// ListChats returns every chat metadata record.
func (s *Store) ListChats() ([]models.Chat, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := []byte(chatPrefix)
	var out []models.Chat
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var c models.Chat
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// MutateChat applies fn to the chat's metadata under the chat lock and
// persists the result. A fn error or a canceled context aborts without
// writing; fn may inspect the loaded record freely.
func (s *Store) MutateChat(ctx context.Context, chatID string, fn func(*models.Chat) error) (models.Chat, error) {
	mu := s.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	c, err := s.GetChat(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if err := fn(&c); err != nil {
		return models.Chat{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Chat{}, err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return models.Chat{}, fmt.Errorf("marshal chat: %w", err)
	}
	if err := s.db.Set(chatMetaKey(chatID), b, pebble.Sync); err != nil {
		logger.Error("mutate_chat_failed", zap.String("chat", chatID), zap.Error(err))
		return models.Chat{}, err
	}
	return c, nil
}

// AppendMessage assigns the chat's next sequence id to msg and writes the
// message, its id index, and the updated chat metadata in one batch. The
// caller fills every field except Seq. No partial state survives an error.
func (s *Store) AppendMessage(ctx context.Context, chatID string, msg *models.Message) error {
	mu := s.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	meta, err := s.GetChat(chatID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seq := meta.LastSeq + 1
	msg.Seq = seq
	msg.Chat = chatID

	meta.LastSeq = seq
	meta.LastMessageID = msg.ID
	meta.UpdatedTS = msg.TS

	mb, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	lb, err := json.Marshal(msgLocator{Chat: chatID, Seq: seq})
	if err != nil {
		return fmt.Errorf("marshal locator: %w", err)
	}
	cb, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(msgKey(chatID, seq), mb, nil)
	_ = batch.Set(msgIdxKey(msg.ID), lb, nil)
	_ = batch.Set(chatMetaKey(chatID), cb, nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("append_message_failed", zap.String("chat", chatID), zap.Int64("seq", seq), zap.Error(err))
		return err
	}
	messagesAppended.Inc()
	logger.Info("message_saved", zap.String("chat", chatID), zap.String("msg_id", msg.ID), zap.Int64("seq", seq))
	return nil
}

// ListMessages returns the chat's live messages in append order. Tombstones
// are skipped; an optional limit caps the result from the front.
func (s *Store) ListMessages(chatID string, limit ...int) ([]models.Message, error) {
	max := -1
	if len(limit) > 0 {
		max = limit[0]
	}
	var out []models.Message
	err := s.scanMessages(chatID, func(m models.Message) bool {
		if m.Deleted {
			return true
		}
		out = append(out, m)
		return max <= 0 || len(out) < max
	})
	return out, err
}

// SearchMessages returns live messages whose body contains the query,
// case-insensitive.
func (s *Store) SearchMessages(chatID, query string) ([]models.Message, error) {
	q := strings.ToLower(query)
	var out []models.Message
	err := s.scanMessages(chatID, func(m models.Message) bool {
		if m.Deleted {
			return true
		}
		if strings.Contains(strings.ToLower(m.Body), q) {
			out = append(out, m)
		}
		return true
	})
	return out, err
}

// scanMessages iterates the chat's log in key order, decoding each entry
// and passing it to visit; visit returns false to stop early.
func (s *Store) scanMessages(chatID string, visit func(models.Message) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	prefix := chatMsgPrefix(chatID)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("invalid_message_json", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		if !visit(m) {
			break
		}
	}
	return iter.Error()
}

// GetMessage looks a message up by id. Tombstoned messages are returned
// with Deleted set so reference resolution can distinguish "deleted" from
// "never existed" (the latter is ErrNotFound).
func (s *Store) GetMessage(msgID string) (models.Message, error) {
	loc, err := s.getLocator(msgID)
	if err != nil {
		return models.Message{}, err
	}
	v, closer, err := s.db.Get(msgKey(loc.Chat, loc.Seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, cerr.NotFound("message %s", msgID)
		}
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

func (s *Store) getLocator(msgID string) (msgLocator, error) {
	v, closer, err := s.db.Get(msgIdxKey(msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return msgLocator{}, cerr.NotFound("message %s", msgID)
		}
		return msgLocator{}, err
	}
	defer closer.Close()
	var loc msgLocator
	if err := json.Unmarshal(v, &loc); err != nil {
		return msgLocator{}, fmt.Errorf("invalid message locator: %w", err)
	}
	return loc, nil
}

// UpdateMessage applies fn to the message under its chat's lock and
// persists the result. Tombstoned messages cannot be updated.
func (s *Store) UpdateMessage(ctx context.Context, msgID string, fn func(*models.Message) error) (models.Message, error) {
	loc, err := s.getLocator(msgID)
	if err != nil {
		return models.Message{}, err
	}
	mu := s.chatLock(loc.Chat)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.GetMessage(msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Deleted {
		return models.Message{}, cerr.NotFound("message %s", msgID)
	}
	if err := fn(&m); err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.Set(msgKey(loc.Chat, loc.Seq), b, pebble.Sync); err != nil {
		logger.Error("update_message_failed", zap.String("msg_id", msgID), zap.Error(err))
		return models.Message{}, err
	}
	return m, nil
}

// DeleteMessage replaces the message with a tombstone that keeps its
// identity and seq resolvable. When the deleted message was the chat's
// last message the metadata pointer is walked back to the newest live
// entry in the same batch.
func (s *Store) DeleteMessage(ctx context.Context, msgID string) error {
	loc, err := s.getLocator(msgID)
	if err != nil {
		return err
	}
	mu := s.chatLock(loc.Chat)
	mu.Lock()
	defer mu.Unlock()

	m, err := s.GetMessage(msgID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tomb := m.Tombstone()
	tb, err := json.Marshal(tomb)
	if err != nil {
		return fmt.Errorf("marshal tombstone: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(msgKey(loc.Chat, loc.Seq), tb, nil)

	meta, err := s.GetChat(loc.Chat)
	if err == nil && meta.LastMessageID == msgID {
		prev, perr := s.latestLiveBefore(loc.Chat, loc.Seq)
		if perr != nil {
			return perr
		}
		meta.LastMessageID = ""
		if prev != nil {
			meta.LastMessageID = prev.ID
		}
		if meta.PinnedMessageID == msgID {
			meta.PinnedMessageID = ""
		}
		cb, merr := json.Marshal(meta)
		if merr != nil {
			return fmt.Errorf("marshal chat: %w", merr)
		}
		_ = batch.Set(chatMetaKey(loc.Chat), cb, nil)
	} else if err == nil && meta.PinnedMessageID == msgID {
		meta.PinnedMessageID = ""
		cb, merr := json.Marshal(meta)
		if merr != nil {
			return fmt.Errorf("marshal chat: %w", merr)
		}
		_ = batch.Set(chatMetaKey(loc.Chat), cb, nil)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("delete_message_failed", zap.String("msg_id", msgID), zap.Error(err))
		return err
	}
	messagesTombstoned.Inc()
	logger.Info("message_tombstoned", zap.String("chat", loc.Chat), zap.String("msg_id", msgID))
	return nil
}

// latestLiveBefore returns the newest non-deleted message with seq < before,
// or nil when the log holds none.
func (s *Store) latestLiveBefore(chatID string, before int64) (*models.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	prefix := chatMsgPrefix(chatID)
	for iter.SeekLT(msgKey(chatID, before)); iter.Valid(); iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted {
			return &m, nil
		}
	}
	return nil, iter.Error()
}

// CountAfter returns the number of live messages with seq strictly greater
// than afterSeq. afterSeq 0 counts the whole log (never-read case).
func (s *Store) CountAfter(chatID string, afterSeq int64) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	prefix := chatMsgPrefix(chatID)
	n := 0
	for iter.SeekGE(msgKey(chatID, afterSeq+1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted {
			n++
		}
	}
	unreadScans.Inc()
	return n, iter.Error()
}

// CountsAfter computes CountAfter for many read pointers with a single
// scan of the chat's log: live seqs are collected once, then each pointer
// is answered by binary search. Cost is O(messages + pointers*log(messages)),
// never pointers*messages.
func (s *Store) CountsAfter(chatID string, pointers map[string]int64) (map[string]int, error) {
	var seqs []int64
	err := s.scanMessages(chatID, func(m models.Message) bool {
		if !m.Deleted {
			seqs = append(seqs, m.Seq)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	// key order already sorts seqs ascending
	out := make(map[string]int, len(pointers))
	for user, ptr := range pointers {
		idx := sort.Search(len(seqs), func(i int) bool { return seqs[i] > ptr })
		out[user] = len(seqs) - idx
	}
	unreadScans.Inc()
	return out, nil
}

// DeleteChat removes the chat metadata and tombstones every message in its
// log so inbound references from other chats degrade to "unavailable"
// instead of dangling hard.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	mu := s.chatLock(chatID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.GetChat(chatID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	err := s.scanMessages(chatID, func(m models.Message) bool {
		if m.Deleted {
			return true
		}
		tb, merr := json.Marshal(m.Tombstone())
		if merr != nil {
			return true
		}
		_ = batch.Set(msgKey(chatID, m.Seq), tb, nil)
		return true
	})
	if err != nil {
		return err
	}
	_ = batch.Delete(chatMetaKey(chatID), nil)
	if err := batch.Commit(pebble.Sync); err != nil {
		logger.Error("delete_chat_failed", zap.String("chat", chatID), zap.Error(err))
		return err
	}
	logger.Info("chat_deleted", zap.String("chat", chatID))
	return nil
}

// ListKeys returns all keys (as strings) that start with the given prefix.
// If prefix is empty it returns all keys in the DB. Used by admin tooling.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if prefix == "" {
		for iter.First(); iter.Valid(); iter.Next() {
			out = append(out, string(append([]byte(nil), iter.Key()...)))
		}
		return out, iter.Error()
	}
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(append([]byte(nil), iter.Key()...)))
	}
	return out, iter.Error()
}

// GetKey returns the raw value for the given key. Used by admin tooling.
func (s *Store) GetKey(key string) (string, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", cerr.NotFound("key not found")
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SaveKey writes a raw value under the given key. Used for system
// bookkeeping records outside the chat/message key layout.
func (s *Store) SaveKey(key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

// DeleteKey removes a raw key. Missing keys are not an error.
func (s *Store) DeleteKey(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// DBMetrics returns the underlying Pebble metrics snapshot.
func (s *Store) DBMetrics() *pebble.Metrics {
	return s.db.Metrics()
}
