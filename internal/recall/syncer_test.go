package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/chat"
	"parley/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *history.Store {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	store, err := history.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSyncNowSweepsArchive(t *testing.T) {
	store := newTestArchive(t)
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "Plan the trip to Lisbon", CreatedAt: base,
	}))
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m2", Role: chat.RoleAssistant, Content: "Lisbon in June is warm", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, store.RecordMessage(ctx, "chat-2", chat.Message{
		ID: "m3", Role: chat.RoleUser, Content: "Fix the staging deployment", CreatedAt: base.Add(2 * time.Minute),
	}))

	s := NewSyncer(ix, store)
	result, err := s.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChatsScanned)
	assert.Equal(t, 3, result.MessagesIndexed)
	assert.Equal(t, 0, result.MessagesRemoved)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, s.Status().TrackedMessages)

	// A second sweep with nothing changed re-embeds nothing.
	result, err = s.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.MessagesIndexed)
	assert.Equal(t, 3, result.MessagesSkipped)
}

func TestSyncNowDropsDiscardedMessages(t *testing.T) {
	store := newTestArchive(t)
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "Keep this one around",
	}))
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m2", Role: chat.RoleUser, Content: "This one gets rolled back",
	}))

	s := NewSyncer(ix, store)
	_, err = s.SyncNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, s.Status().TrackedMessages)

	require.NoError(t, store.DiscardMessage(ctx, "chat-1", "m2"))

	result, err := s.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MessagesRemoved)
	assert.Equal(t, 1, s.Status().TrackedMessages)
}

func TestSyncNowReindexesEditedMessages(t *testing.T) {
	store := newTestArchive(t)
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleAssistant, Content: "draft answer",
	}))

	s := NewSyncer(ix, store)
	_, err = s.SyncNow(ctx)
	require.NoError(t, err)

	// Same ID, new content, as happens when a completion upserts the row.
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleAssistant, Content: "final answer with detail",
	}))

	result, err := s.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.MessagesIndexed)
	assert.Equal(t, 0, result.MessagesSkipped)
}

func TestHookIndexesLiveMessages(t *testing.T) {
	store := newTestArchive(t)
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	s := NewSyncer(ix, store)
	store.SetRecordedCallback(s.Hook())

	ctx := context.Background()
	require.NoError(t, store.RecordMessage(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "Remind me about the quarterly budget review",
	}))

	assert.Equal(t, 1, s.Status().TrackedMessages)

	matches, err := ix.Search(ctx, "quarterly budget", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "m1", matches[0].MessageID)
	assert.Equal(t, "chat-1", matches[0].ChatID)
}
