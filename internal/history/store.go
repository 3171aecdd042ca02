package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"parley/internal/chat"
	"parley/internal/streams"
)

// Store archives chat transcripts in SQLite. It satisfies chat.Recorder,
// so the orchestrator can write through to it as messages are confirmed.
type Store struct {
	db         *sql.DB
	onRecorded RecordedCallback
}

// RecordedCallback runs after a message lands in the archive. Set it
// before the store starts receiving writes.
type RecordedCallback func(chatID string, msg chat.Message)

// Chat is one archived conversation.
type Chat struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// SearchResult is a message matched by a text search.
type SearchResult struct {
	ChatID    string
	MessageID string
	Role      string
	Content   string
	CreatedAt time.Time
	Score     int
}

// NewStore opens (or creates) the archive database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := configure(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure history database: %w", err)
	}

	return &Store{db: db}, nil
}

// SetRecordedCallback registers fn to run after each archived message.
func (s *Store) SetRecordedCallback(fn RecordedCallback) {
	s.onRecorded = fn
}

// RecordMessage upserts one message and bumps the owning chat.
func (s *Store) RecordMessage(ctx context.Context, chatID string, msg chat.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	summaries, err := marshalSummaries(msg.KeySummaries)
	if err != nil {
		return fmt.Errorf("failed to encode summaries: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureChat(ctx, tx, chatID, created); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, chat_id, role, content, feedback, summaries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, chatID, string(msg.Role), msg.Content, int(msg.Feedback), summaries, created)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}

	if err := recountChat(ctx, tx, chatID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	if s.onRecorded != nil {
		s.onRecorded(chatID, msg)
	}
	return nil
}

// DiscardMessage removes a message that was rolled back or replaced by a
// server-confirmed copy under a different ID.
func (s *Store) DiscardMessage(ctx context.Context, chatID, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE chat_id = ? AND id = ?", chatID, messageID,
	); err != nil {
		return fmt.Errorf("failed to discard message: %w", err)
	}
	if err := recountChat(ctx, tx, chatID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit discard: %w", err)
	}
	return nil
}

// TouchChat upserts chat metadata. An empty title keeps the stored one.
func (s *Store) TouchChat(ctx context.Context, chatID, title string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var res sql.Result
	var err error
	if title != "" {
		res, err = s.db.ExecContext(ctx,
			"UPDATE chats SET title = ?, updated_at = ? WHERE id = ?", title, at, chatID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE chats SET updated_at = ? WHERE id = ?", at, chatID)
	}
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check touch result: %w", err)
	}
	if rows == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO chats (id, title, created_at, updated_at, message_count)
			VALUES (?, ?, ?, ?, 0)
		`, chatID, title, at, at)
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}
	}
	return nil
}

// Chats lists archived chats, most recently updated first.
func (s *Store) Chats(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at, message_count
		FROM chats
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// RecentMessages returns the newest limit messages of a chat in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, chatID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	// Grab the newest rows, then flip them back into reading order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, feedback, summaries, created_at FROM (
			SELECT id, role, content, feedback, summaries, created_at
			FROM messages
			WHERE chat_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m         chat.Message
			role      string
			feedback  int
			summaries string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &feedback, &summaries, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.Feedback = chat.Feedback(feedback)
		m.State = chat.StateFinal
		if ks, err := unmarshalSummaries(summaries); err == nil {
			m.KeySummaries = ks
		} else {
			log.Printf("[History] Warning: bad summaries for message %s: %v", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SearchMessages finds archived messages containing the query text.
// Results are ranked by how often the query terms appear.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, id, role, content, created_at
		FROM messages
		WHERE content LIKE ?
		ORDER BY created_at DESC
		LIMIT ?
	`, "%"+query+"%", limit*3)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	terms := strings.Fields(strings.ToLower(query))
	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChatID, &r.MessageID, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Score = matchScore(r.Content, terms)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// PruneBefore deletes messages older than cutoff and drops chats left
// empty by the sweep. It returns the number of messages removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET message_count = (
			SELECT COUNT(*) FROM messages WHERE messages.chat_id = chats.id
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to recount chats: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chats WHERE message_count = 0 AND updated_at < ?", cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to prune empty chats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func ensureChat(ctx context.Context, tx *sql.Tx, chatID string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE chats SET updated_at = ? WHERE id = ?", at, chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check chat update: %w", err)
	}
	if rows == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chats (id, title, created_at, updated_at, message_count)
			VALUES (?, '', ?, ?, 0)
		`, chatID, at, at)
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}
	}
	return nil
}

func recountChat(ctx context.Context, tx *sql.Tx, chatID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE chats SET message_count = (
			SELECT COUNT(*) FROM messages WHERE chat_id = ?
		) WHERE id = ?
	`, chatID, chatID)
	if err != nil {
		return fmt.Errorf("failed to recount chat: %w", err)
	}
	return nil
}

func marshalSummaries(ks []streams.KeySummary) (string, error) {
	if len(ks) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ks)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSummaries(data string) ([]streams.KeySummary, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ks []streams.KeySummary
	if err := json.Unmarshal([]byte(data), &ks); err != nil {
		return nil, err
	}
	return ks, nil
}

func matchScore(content string, terms []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, term := range terms {
		score += strings.Count(lower, term)
	}
	return score
}
