package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatdb/pkg/cerr"
	"chatdb/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir() + "/db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedChat(t *testing.T, s *Store, id string, participants ...string) models.Chat {
	t.Helper()
	now := time.Now().UTC().UnixNano()
	c := models.Chat{
		ID:           id,
		Name:         id,
		Kind:         models.KindGroup,
		CreatorID:    participants[0],
		Participants: participants,
		Admins:       participants[:1],
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	require.NoError(t, s.SaveChat(context.Background(), c))
	return c
}

func appendText(t *testing.T, s *Store, chatID, sender, body string) models.Message {
	t.Helper()
	m := models.Message{
		ID:     "m-" + body,
		Chat:   chatID,
		Sender: sender,
		Kind:   models.KindText,
		Body:   body,
		TS:     time.Now().UTC().UnixNano(),
	}
	require.NoError(t, s.AppendMessage(context.Background(), chatID, &m))
	return m
}

func TestAppendAssignsContiguousSeqs(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice", "bob")

	for i, body := range []string{"a", "b", "c"} {
		m := appendText(t, s, "c1", "alice", body)
		require.Equal(t, int64(i+1), m.Seq)
	}

	msgs, err := s.ListMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		require.Equal(t, int64(i+1), m.Seq)
	}

	c, err := s.GetChat("c1")
	require.NoError(t, err)
	require.Equal(t, int64(3), c.LastSeq)
	require.Equal(t, msgs[2].ID, c.LastMessageID)
}

func TestSaveChatRefusesOverwrite(t *testing.T) {
	s := newTestStore(t)
	fresh := seedChat(t, s, "c1", "alice")
	m1 := appendText(t, s, "c1", "alice", "first")
	require.Equal(t, int64(1), m1.Seq)

	// a duplicate create must not reset the high-water mark
	err := s.SaveChat(context.Background(), fresh)
	require.ErrorIs(t, err, cerr.ErrConflict)

	c, err := s.GetChat("c1")
	require.NoError(t, err)
	require.Equal(t, int64(1), c.LastSeq)

	m2 := appendText(t, s, "c1", "alice", "second")
	require.NotEqual(t, m1.Seq, m2.Seq)
	require.Equal(t, int64(2), m2.Seq)
}

func TestConcurrentAppendsGetDistinctSeqs(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")

	const n = 20
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := models.Message{
				ID:   "m" + string(rune('a'+i)),
				Chat: "c1", Sender: "alice", Kind: models.KindText, Body: "x",
				TS: time.Now().UTC().UnixNano(),
			}
			if err := s.AppendMessage(context.Background(), "c1", &m); err == nil {
				seqs[i] = m.Seq
			}
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, seq := range seqs {
		require.Greater(t, seq, int64(0))
		require.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	c, err := s.GetChat("c1")
	require.NoError(t, err)
	require.Equal(t, int64(n), c.LastSeq)
}

func TestGetMessageByID(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	m := appendText(t, s, "c1", "alice", "hello")

	got, err := s.GetMessage(m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Body, got.Body)
	require.Equal(t, "c1", got.Chat)

	_, err = s.GetMessage("nope")
	require.ErrorIs(t, err, cerr.ErrNotFound)
}

func TestDeleteMessageKeepsTombstone(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	m1 := appendText(t, s, "c1", "alice", "one")
	m2 := appendText(t, s, "c1", "alice", "two")

	require.NoError(t, s.DeleteMessage(context.Background(), m2.ID))

	// the tombstone resolves by id with content stripped
	got, err := s.GetMessage(m2.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Empty(t, got.Body)
	require.Equal(t, m2.Seq, got.Seq)

	// live listings skip it
	msgs, err := s.ListMessages("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// the last-message pointer walks back to the previous live message
	c, err := s.GetChat("c1")
	require.NoError(t, err)
	require.Equal(t, m1.ID, c.LastMessageID)

	// repeat delete is a no-op
	require.NoError(t, s.DeleteMessage(context.Background(), m2.ID))
}

func TestDeleteMessageClearsPin(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	m := appendText(t, s, "c1", "alice", "pinned")

	_, err := s.MutateChat(context.Background(), "c1", func(c *models.Chat) error {
		c.PinnedMessageID = m.ID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessage(context.Background(), m.ID))
	c, err := s.GetChat("c1")
	require.NoError(t, err)
	require.Empty(t, c.PinnedMessageID)
}

func TestCountAfter(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	appendText(t, s, "c1", "alice", "one")
	m2 := appendText(t, s, "c1", "alice", "two")
	appendText(t, s, "c1", "alice", "three")

	// pointer 0 means never read: the whole log counts
	n, err := s.CountAfter("c1", 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = s.CountAfter("c1", m2.Seq)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.CountAfter("c1", 3)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestCountsAfterMatchesCountAfter(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice", "bob", "carol")
	for _, b := range []string{"1", "2", "3", "4"} {
		appendText(t, s, "c1", "alice", b)
	}
	require.NoError(t, s.DeleteMessage(context.Background(), "m-2"))

	pointers := map[string]int64{"alice": 4, "bob": 1, "carol": 0}
	counts, err := s.CountsAfter("c1", pointers)
	require.NoError(t, err)
	for user, ptr := range pointers {
		want, err := s.CountAfter("c1", ptr)
		require.NoError(t, err)
		require.Equal(t, want, counts[user], "user %s", user)
	}
	require.Equal(t, 0, counts["alice"])
	require.Equal(t, 2, counts["bob"])
	require.Equal(t, 3, counts["carol"])
}

func TestDeleteChatTombstonesLog(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	m := appendText(t, s, "c1", "alice", "doomed")

	require.NoError(t, s.DeleteChat(context.Background(), "c1"))

	_, err := s.GetChat("c1")
	require.ErrorIs(t, err, cerr.ErrNotFound)

	// messages survive as tombstones so inbound references degrade softly
	got, err := s.GetMessage(m.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
}

func TestPurgeTombstones(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	m1 := appendText(t, s, "c1", "alice", "old")
	m2 := appendText(t, s, "c1", "alice", "fresh")
	require.NoError(t, s.DeleteMessage(context.Background(), m1.ID))
	require.NoError(t, s.DeleteMessage(context.Background(), m2.ID))

	// backdate m1's tombstone so only it falls past the cutoff
	tomb, err := s.GetMessage(m1.ID)
	require.NoError(t, err)
	cutoff := tomb.TS + 1

	// dry run reports without deleting
	n, err := s.PurgeTombstones(context.Background(), cutoff, 10, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = s.GetMessage(m1.ID)
	require.NoError(t, err)

	n, err = s.PurgeTombstones(context.Background(), cutoff, 10, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetMessage(m1.ID)
	require.ErrorIs(t, err, cerr.ErrNotFound)
	_, err = s.GetMessage(m2.ID)
	require.NoError(t, err)
}

func TestSearchMessages(t *testing.T) {
	s := newTestStore(t)
	seedChat(t, s, "c1", "alice")
	appendText(t, s, "c1", "alice", "Deploy is at noon")
	appendText(t, s, "c1", "alice", "lunch after deploy")
	appendText(t, s, "c1", "alice", "unrelated")

	msgs, err := s.SearchMessages("c1", "DEPLOY")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestSaveAndDeleteKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveKey("system:version", []byte("1.2.3")))

	v, err := s.GetKey("system:version")
	require.NoError(t, err)
	require.Equal(t, "1.2.3", v)

	keys, err := s.ListKeys("system:")
	require.NoError(t, err)
	require.Equal(t, []string{"system:version"}, keys)

	require.NoError(t, s.DeleteKey("system:version"))
	_, err = s.GetKey("system:version")
	require.ErrorIs(t, err, cerr.ErrNotFound)
}
