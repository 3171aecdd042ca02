package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/chat"
	"parley/internal/streams"
)

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestNewStoreCreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	// All migrations should have been applied.
	var count int
	err = store.DB().QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != len(migrations()) {
		t.Errorf("Expected %d migrations to be applied, got %d", len(migrations()), count)
	}
}

func TestReopeningStoreIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.RecordMessage(context.Background(), "chat-1", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "hello",
	}); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.RecentMessages(context.Background(), "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to load messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("Expected recorded message to survive reopen, got %v", msgs)
	}
}

func TestRecordAndRetrieveMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testMessages := []struct {
		id      string
		role    chat.Role
		content string
	}{
		{"m1", chat.RoleUser, "First message"},
		{"m2", chat.RoleAssistant, "Second message"},
		{"m3", chat.RoleUser, "Third message"},
	}

	for i, msg := range testMessages {
		err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID:        msg.id,
			Role:      msg.role,
			Content:   msg.content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Failed to record message '%s': %v", msg.content, err)
		}
	}

	retrieved, err := store.RecentMessages(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(retrieved) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(retrieved))
	}

	// Messages come back in chronological order.
	for i, expected := range testMessages {
		if retrieved[i].Role != expected.role {
			t.Errorf("Message %d: expected role %s, got %s", i, expected.role, retrieved[i].Role)
		}
		if retrieved[i].Content != expected.content {
			t.Errorf("Message %d: expected content %s, got %s", i, expected.content, retrieved[i].Content)
		}
		if retrieved[i].State != chat.StateFinal {
			t.Errorf("Message %d: expected final state, got %s", i, retrieved[i].State)
		}
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat, got %d", len(chats))
	}
	if chats[0].MessageCount != 3 {
		t.Errorf("Expected message count 3, got %d", chats[0].MessageCount)
	}
}

func TestRecordMessageUpsertsByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "draft"}
	if err := store.RecordMessage(ctx, "chat-1", first); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}

	// Recording the same ID again replaces the row instead of duplicating it.
	final := chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "final", Feedback: chat.FeedbackUp}
	if err := store.RecordMessage(ctx, "chat-1", final); err != nil {
		t.Fatalf("Failed to re-record message: %v", err)
	}

	msgs, err := store.RecentMessages(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message after upsert, got %d", len(msgs))
	}
	if msgs[0].Content != "final" {
		t.Errorf("Expected content 'final', got %s", msgs[0].Content)
	}
	if msgs[0].Feedback != chat.FeedbackUp {
		t.Errorf("Expected feedback %d, got %d", chat.FeedbackUp, msgs[0].Feedback)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if chats[0].MessageCount != 1 {
		t.Errorf("Expected message count 1 after upsert, got %d", chats[0].MessageCount)
	}
}

func TestKeySummariesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := chat.Message{
		ID:      "m1",
		Role:    chat.RoleAssistant,
		Content: "Research results",
		KeySummaries: []streams.KeySummary{
			{Message: "found 3 sources", Timestamp: stamp},
			{Message: "cross-checked dates", Timestamp: stamp.Add(time.Second)},
		},
	}
	if err := store.RecordMessage(ctx, "chat-1", msg); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}

	msgs, err := store.RecentMessages(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if len(msgs[0].KeySummaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(msgs[0].KeySummaries))
	}
	if msgs[0].KeySummaries[0].Message != "found 3 sources" {
		t.Errorf("Unexpected first summary: %s", msgs[0].KeySummaries[0].Message)
	}
}

func TestDiscardMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID: id, Role: chat.RoleUser, Content: "content " + id,
		}); err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}

	if err := store.DiscardMessage(ctx, "chat-1", "m1"); err != nil {
		t.Fatalf("Failed to discard message: %v", err)
	}

	msgs, err := store.RecentMessages(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Errorf("Expected only m2 to remain, got %v", msgs)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if chats[0].MessageCount != 1 {
		t.Errorf("Expected message count 1 after discard, got %d", chats[0].MessageCount)
	}

	// Discarding an unknown message is not an error.
	if err := store.DiscardMessage(ctx, "chat-1", "missing"); err != nil {
		t.Errorf("Expected discard of unknown message to succeed, got %v", err)
	}
}

func TestRecentMessagesKeepsNewestWhenLimited(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ids := []string{"m1", "m2", "m3", "m4", "m5"}
	for i, id := range ids {
		if err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID:        id,
			Role:      chat.RoleUser,
			Content:   "message " + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}

	msgs, err := store.RecentMessages(ctx, "chat-1", 3)
	if err != nil {
		t.Fatalf("Failed to get messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}

	// The newest three, still in chronological order.
	want := []string{"m3", "m4", "m5"}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, msgs[i].ID)
		}
	}
}

func TestTouchChatUpsertsMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.TouchChat(ctx, "chat-1", "Trip planning", at); err != nil {
		t.Fatalf("Failed to touch new chat: %v", err)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("Expected 1 chat, got %d", len(chats))
	}
	if chats[0].Title != "Trip planning" {
		t.Errorf("Expected title 'Trip planning', got %s", chats[0].Title)
	}

	// An empty title only bumps the timestamp.
	later := at.Add(time.Hour)
	if err := store.TouchChat(ctx, "chat-1", "", later); err != nil {
		t.Fatalf("Failed to touch existing chat: %v", err)
	}

	chats, err = store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if chats[0].Title != "Trip planning" {
		t.Errorf("Expected title to survive empty touch, got %s", chats[0].Title)
	}
	if !chats[0].UpdatedAt.Equal(later) {
		t.Errorf("Expected updated_at %v, got %v", later, chats[0].UpdatedAt)
	}
}

func TestChatsOrderedByActivity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.TouchChat(ctx, "chat-a", "Older", base); err != nil {
		t.Fatalf("Failed to touch chat: %v", err)
	}
	if err := store.TouchChat(ctx, "chat-b", "Newer", base.Add(time.Hour)); err != nil {
		t.Fatalf("Failed to touch chat: %v", err)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(chats))
	}
	if chats[0].ID != "chat-b" || chats[1].ID != "chat-a" {
		t.Errorf("Expected most recent chat first, got %s then %s", chats[0].ID, chats[1].ID)
	}
}

func TestSearchMessagesRanksByTermFrequency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		id      string
		content string
	}{
		{"m1", "The deployment failed on staging"},
		{"m2", "deployment deployment deployment notes"},
		{"m3", "Unrelated grocery list"},
	}
	for i, msg := range seed {
		if err := store.RecordMessage(ctx, "chat-1", chat.Message{
			ID:        msg.id,
			Role:      chat.RoleUser,
			Content:   msg.content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Failed to record message: %v", err)
		}
	}

	results, err := store.SearchMessages(ctx, "deployment", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].MessageID != "m2" {
		t.Errorf("Expected m2 ranked first, got %s", results[0].MessageID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("Expected descending scores, got %d then %d", results[0].Score, results[1].Score)
	}

	// Blank queries return nothing rather than everything.
	results, err = store.SearchMessages(ctx, "   ", 10)
	if err != nil {
		t.Fatalf("Failed to search blank query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results for blank query, got %d", len(results))
	}
}

func TestPruneBeforeRemovesOldMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	fresh := cutoff.Add(time.Hour)

	// A chat that will become empty and one that stays active.
	if err := store.RecordMessage(ctx, "chat-old", chat.Message{
		ID: "m1", Role: chat.RoleUser, Content: "ancient", CreatedAt: old,
	}); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}
	if err := store.TouchChat(ctx, "chat-old", "Old chat", old); err != nil {
		t.Fatalf("Failed to touch chat: %v", err)
	}
	if err := store.RecordMessage(ctx, "chat-live", chat.Message{
		ID: "m2", Role: chat.RoleUser, Content: "stale", CreatedAt: old,
	}); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}
	if err := store.RecordMessage(ctx, "chat-live", chat.Message{
		ID: "m3", Role: chat.RoleUser, Content: "recent", CreatedAt: fresh,
	}); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}

	removed, err := store.PruneBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 messages removed, got %d", removed)
	}

	chats, err := store.Chats(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ID != "chat-live" {
		t.Errorf("Expected only chat-live to survive, got %v", chats)
	}
	if chats[0].MessageCount != 1 {
		t.Errorf("Expected recounted message count 1, got %d", chats[0].MessageCount)
	}
}

func TestRecordedCallbackFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var gotChat string
	var gotMsg chat.Message
	store.SetRecordedCallback(func(chatID string, msg chat.Message) {
		gotChat = chatID
		gotMsg = msg
	})

	msg := chat.Message{ID: "m1", Role: chat.RoleAssistant, Content: "indexed"}
	if err := store.RecordMessage(ctx, "chat-1", msg); err != nil {
		t.Fatalf("Failed to record message: %v", err)
	}

	if gotChat != "chat-1" {
		t.Errorf("Expected callback chat 'chat-1', got %s", gotChat)
	}
	if gotMsg.ID != "m1" || gotMsg.Content != "indexed" {
		t.Errorf("Expected callback message m1, got %+v", gotMsg)
	}
}
