package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatdb/pkg/cerr"
	"chatdb/pkg/models"
	"chatdb/pkg/store"
)

type staticAuthz map[string]bool

func (a staticAuthz) IsDirectoryAdmin(userID string) bool { return a[userID] }

func setup(t *testing.T) *ChatDirectory {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, nil, staticAuthz{"root": true}, nil)
}

func mkChat(t *testing.T, d *ChatDirectory, creator string, participants ...string) models.Chat {
	t.Helper()
	c, err := d.CreateChat(context.Background(), CreateChatParams{Name: "room", CreatorID: creator, Participants: participants})
	require.NoError(t, err)
	return c
}

func mkText(t *testing.T, d *ChatDirectory, chatID, sender, body string) MessageView {
	t.Helper()
	v, err := d.AppendMessage(context.Background(), chatID, AppendMessageParams{Sender: sender, Kind: models.KindText, Body: body})
	require.NoError(t, err)
	return v
}

func TestCreateChatDefaults(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob", "bob", "alice")

	// duplicates collapse and the creator leads the join order
	require.Equal(t, []string{"alice", "bob"}, c.Participants)
	require.Equal(t, []string{"alice"}, c.Admins)
	require.Equal(t, models.KindGroup, c.Kind)
	require.NotEmpty(t, c.Gradient.Colors)
	require.Equal(t, models.GradientForName("room"), c.Gradient)
}

func TestSenderPointerAdvancesOnAppend(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	mkText(t, d, c.ID, "alice", "hi")

	got, err := d.Store().GetChat(c.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ReadPointer("alice"))
	require.Equal(t, int64(0), got.ReadPointer("bob"))
}

func TestAppendValidation(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	orig := mkText(t, d, c.ID, "alice", "original")

	_, err := d.AppendMessage(context.Background(), c.ID, AppendMessageParams{Sender: "mallory", Kind: models.KindText, Body: "hi"})
	require.ErrorIs(t, err, cerr.ErrUnauthorized)

	_, err = d.AppendMessage(context.Background(), c.ID, AppendMessageParams{Sender: "alice", Kind: "carrier-pigeon"})
	require.ErrorIs(t, err, cerr.ErrValidation)

	_, err = d.AppendMessage(context.Background(), c.ID, AppendMessageParams{Sender: "alice", Kind: models.KindPoll})
	require.ErrorIs(t, err, cerr.ErrValidation)

	_, err = d.AppendMessage(context.Background(), c.ID, AppendMessageParams{Sender: "alice", Kind: models.KindImage})
	require.ErrorIs(t, err, cerr.ErrValidation)

	// replies must target a live message of the same chat
	other := mkChat(t, d, "alice")
	_, err = d.AppendMessage(context.Background(), other.ID, AppendMessageParams{Sender: "alice", Kind: models.KindReply, RefMessageID: orig.ID})
	require.ErrorIs(t, err, cerr.ErrValidation)

	require.NoError(t, d.DeleteMessage(context.Background(), orig.ID, "alice"))
	_, err = d.AppendMessage(context.Background(), c.ID, AppendMessageParams{Sender: "bob", Kind: models.KindReply, RefMessageID: orig.ID})
	require.ErrorIs(t, err, cerr.ErrConflict)
}

func TestForwardAcrossChats(t *testing.T) {
	d := setup(t)
	src := mkChat(t, d, "alice", "bob")
	dst := mkChat(t, d, "bob")
	orig := mkText(t, d, src.ID, "alice", "worth sharing")

	v, err := d.AppendMessage(context.Background(), dst.ID, AppendMessageParams{Sender: "bob", Kind: models.KindForward, RefMessageID: orig.ID})
	require.NoError(t, err)
	require.NotNil(t, v.Ref)
	require.True(t, v.Ref.Available)
	require.Equal(t, orig.ID, v.Ref.Message.ID)
	require.Equal(t, src.ID, v.Ref.Chat.ID)
}

func TestPinRoundTrip(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	m := mkText(t, d, c.ID, "alice", "important")

	got, err := d.TogglePinned(context.Background(), c.ID, "bob", m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.PinnedMessageID)

	// repinning the same message clears the slot
	got, err = d.TogglePinned(context.Background(), c.ID, "bob", m.ID)
	require.NoError(t, err)
	require.Empty(t, got.PinnedMessageID)

	// pinning a foreign message is invalid
	other := mkChat(t, d, "alice")
	foreign := mkText(t, d, other.ID, "alice", "elsewhere")
	_, err = d.TogglePinned(context.Background(), c.ID, "alice", foreign.ID)
	require.ErrorIs(t, err, cerr.ErrValidation)

	// pinning a tombstone conflicts
	require.NoError(t, d.DeleteMessage(context.Background(), m.ID, "alice"))
	_, err = d.TogglePinned(context.Background(), c.ID, "alice", m.ID)
	require.ErrorIs(t, err, cerr.ErrConflict)
}

func TestPinnedSlotReplaced(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice")
	m1 := mkText(t, d, c.ID, "alice", "first")
	m2 := mkText(t, d, c.ID, "alice", "second")

	_, err := d.TogglePinned(context.Background(), c.ID, "alice", m1.ID)
	require.NoError(t, err)
	got, err := d.TogglePinned(context.Background(), c.ID, "alice", m2.ID)
	require.NoError(t, err)
	require.Equal(t, m2.ID, got.PinnedMessageID)
}

func TestGetChatMarksRead(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	mkText(t, d, c.ID, "alice", "one")
	mkText(t, d, c.ID, "alice", "two")

	view, err := d.GetChat(context.Background(), c.ID, "bob")
	require.NoError(t, err)
	// the view reports the count at open time, then the pointer jumps
	require.Equal(t, 2, view.Unread)
	require.Len(t, view.Messages, 2)

	view, err = d.GetChat(context.Background(), c.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, 0, view.Unread)
}

func TestDirectoryAdminReadsWithoutJoining(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice")
	mkText(t, d, c.ID, "alice", "internal")

	view, err := d.GetChat(context.Background(), c.ID, "root")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)

	// admin viewing must not plant a read pointer for a non-participant
	got, err := d.Store().GetChat(c.ID)
	require.NoError(t, err)
	require.NotContains(t, got.LastRead, "root")

	_, err = d.GetChat(context.Background(), c.ID, "mallory")
	require.ErrorIs(t, err, cerr.ErrUnauthorized)
}

func TestSavedChat(t *testing.T) {
	d := setup(t)

	c, err := d.EnsureSavedChat(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "saved-alice", c.ID)
	require.Equal(t, models.KindSaved, c.Kind)
	require.Equal(t, []string{"alice"}, c.Participants)
	require.Equal(t, models.SavedGradient(), c.Gradient)

	// a second call returns the same chat
	again, err := d.EnsureSavedChat(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, c.ID, again.ID)

	// only the owner may delete it
	err = d.DeleteChat(context.Background(), c.ID, "bob")
	require.ErrorIs(t, err, cerr.ErrUnauthorized)
	require.NoError(t, d.DeleteChat(context.Background(), c.ID, "alice"))
}

func TestSavedChatCreateRaceKeepsLog(t *testing.T) {
	d := setup(t)
	ctx := context.Background()

	c, err := d.EnsureSavedChat(ctx, "alice")
	require.NoError(t, err)
	m1 := mkText(t, d, c.ID, "alice", "note")
	require.Equal(t, int64(1), m1.Seq)

	// a slower first-contact writer must not clobber the live record and
	// wind the sequence back
	stale := c
	stale.LastSeq = 0
	require.ErrorIs(t, d.Store().SaveChat(ctx, stale), cerr.ErrConflict)

	again, err := d.EnsureSavedChat(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), again.LastSeq)

	m2 := mkText(t, d, c.ID, "alice", "another")
	require.NotEqual(t, m1.Seq, m2.Seq)
	require.Equal(t, int64(2), m2.Seq)
}

func TestEnsureSavedChatConcurrentFirstContact(t *testing.T) {
	d := setup(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := d.EnsureSavedChat(context.Background(), "alice")
			errs[i], ids[i] = err, c.ID
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "saved-alice", ids[i])
	}

	m := mkText(t, d, "saved-alice", "alice", "hi")
	require.Equal(t, int64(1), m.Seq)
}

func TestDeleteChatAnyCaller(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")

	require.NoError(t, d.DeleteChat(context.Background(), c.ID, "mallory"))
	_, err := d.Store().GetChat(c.ID)
	require.ErrorIs(t, err, cerr.ErrNotFound)
}

func TestSearchChatsCarriesUnread(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	mkText(t, d, c.ID, "alice", "weekend plans")

	out, err := d.SearchChats("room")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, c.ID, out[0].ID)
	require.Equal(t, 0, out[0].Unread["alice"])
	require.Equal(t, 1, out[0].Unread["bob"])
	require.NotNil(t, out[0].LastMessage)
}

func TestSameNameChatsDistinct(t *testing.T) {
	d := setup(t)
	a := mkChat(t, d, "alice")
	b, err := d.CreateChat(context.Background(), CreateChatParams{Name: "room", CreatorID: "bob"})
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, []string{"alice"}, a.Participants)
	require.Equal(t, []string{"bob"}, b.Participants)
	require.Equal(t, a.Gradient, b.Gradient)
}

func TestMarkSeenRecordsCaller(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")
	m := mkText(t, d, c.ID, "alice", "hello")

	require.NoError(t, d.MarkSeen(context.Background(), m.ID, "bob"))
	require.NoError(t, d.MarkSeen(context.Background(), m.ID, "bob"))

	got, err := d.Store().GetMessage(m.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, got.SeenBy)
}

func TestListAllChatsExcludesSaved(t *testing.T) {
	d := setup(t)
	mkChat(t, d, "alice", "bob")
	_, err := d.EnsureSavedChat(context.Background(), "alice")
	require.NoError(t, err)

	_, err = d.ListAllChats("alice")
	require.ErrorIs(t, err, cerr.ErrUnauthorized)

	out, err := d.ListAllChats("root")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, models.KindGroup, out[0].Kind)
	require.Contains(t, out[0].Unread, "alice")
	require.Contains(t, out[0].Unread, "bob")
}

func TestEditChatAdminOnly(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice", "bob")

	name := "renamed"
	_, err := d.EditChat(context.Background(), c.ID, "bob", EditChatParams{Name: &name})
	require.ErrorIs(t, err, cerr.ErrUnauthorized)

	got, err := d.EditChat(context.Background(), c.ID, "alice", EditChatParams{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)
	// renaming keeps the creation-time gradient
	require.Equal(t, c.Gradient, got.Gradient)
}

func TestMembershipEventsLogged(t *testing.T) {
	d := setup(t)
	c := mkChat(t, d, "alice")

	_, err := d.AddParticipant(context.Background(), c.ID, "alice", "bob")
	require.NoError(t, err)
	_, err = d.RemoveParticipant(context.Background(), c.ID, "bob", "bob")
	require.NoError(t, err)

	msgs, err := d.Store().ListMessages(c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, models.KindSystem, msgs[0].Kind)
	require.Equal(t, "bob joined the chat", msgs[0].Body)
	require.Equal(t, "bob left the chat", msgs[1].Body)
}
