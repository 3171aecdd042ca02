package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 4096, cfg.EmbedDims)
	assert.Equal(t, 16, cfg.HNSWM)
	assert.Equal(t, 200, cfg.HNSWEfC)
	assert.Equal(t, 50, cfg.HNSWEfS)
	assert.Empty(t, cfg.DBPath)
}

func TestNewIndexInMemory(t *testing.T) {
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, ix)
	defer ix.Close()
}

func TestDefaultsAppliedForZeroConfig(t *testing.T) {
	ix, err := NewIndex(Config{})
	require.NoError(t, err)
	defer ix.Close()
	assert.Equal(t, 500, ix.cfg.ChunkSize)
	assert.Equal(t, 4096, ix.cfg.EmbedDims)
}

func TestAddAndSearch(t *testing.T) {
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()

	msgs := []chat.Message{
		{ID: "m1", Role: chat.RoleUser, Content: "The quick brown fox jumps over the lazy dog", State: chat.StateFinal},
		{ID: "m2", Role: chat.RoleAssistant, Content: "A cat sat on the mat watching the birds fly by", State: chat.StateFinal},
		{ID: "m3", Role: chat.RoleUser, Content: "The rabbit ran through the forest at dawn", State: chat.StateFinal},
	}
	for _, m := range msgs {
		require.NoError(t, ix.Add(ctx, "chat-1", m))
	}

	matches, err := ix.Search(ctx, "fox", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// Matches carry the transcript coordinates back out.
	for _, m := range matches {
		assert.NotEmpty(t, m.ChatID)
		assert.NotEmpty(t, m.MessageID)
		assert.NotEmpty(t, m.Snippet)
	}
	assert.Equal(t, "m1", matches[0].MessageID)
	assert.Equal(t, "chat-1", matches[0].ChatID)
	assert.Equal(t, string(chat.RoleUser), matches[0].Role)
}

func TestSearchEmptyIndex(t *testing.T) {
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	matches, err := ix.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestAddSkipsPlaceholdersAndBlanks(t *testing.T) {
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleAssistant, State: chat.StateLoading,
	}))
	require.NoError(t, ix.Add(ctx, "chat-1", chat.Message{
		ID: "m2", Role: chat.RoleUser, Content: "   ", State: chat.StateFinal,
	}))

	matches, err := ix.Search(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "placeholders and blank messages should not be indexed")
}

func TestForget(t *testing.T) {
	ix, err := NewIndex(DefaultConfig())
	require.NoError(t, err)
	defer ix.Close()

	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "The quick brown fox", State: chat.StateFinal,
	}))
	require.NoError(t, ix.Add(ctx, "chat-1", chat.Message{
		ID: "m2", Role: chat.RoleUser, Content: "A lazy dog sleeps all quick day", State: chat.StateFinal,
	}))

	require.NoError(t, ix.Forget(ctx, "chat-1", "m1"))

	matches, err := ix.Search(ctx, "quick", 5)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotEqual(t, "m1", m.MessageID, "forgotten message should not come back")
	}
}

func TestPersistAndReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "recall.vector.db")
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.DBPath = dbPath

	ix1, err := NewIndex(cfg)
	require.NoError(t, err)
	require.NoError(t, ix1.Add(ctx, "chat-1", chat.Message{
		ID:        "m1",
		Role:      chat.RoleUser,
		Content:   "Persistence is key to reliable transcript recall",
		State:     chat.StateFinal,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, ix1.Save(ctx))
	require.NoError(t, ix1.Close())

	ix2, err := NewIndex(cfg)
	require.NoError(t, err)
	defer ix2.Close()

	matches, err := ix2.Search(ctx, "persistence transcript recall", 5)
	require.NoError(t, err)
	require.NotEmpty(t, matches, "persisted messages should be searchable after reload")
}
