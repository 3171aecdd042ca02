package recall

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"sync"
	"time"

	"parley/internal/chat"
	"parley/internal/history"
)

const (
	syncChatLimit    = 200
	syncMessageLimit = 500
)

// Syncer keeps the recall index aligned with the history archive. It
// tracks content hashes so only new or edited messages are re-embedded,
// and it drops index entries for messages the archive no longer holds.
type Syncer struct {
	ix     *Index
	store  *history.Store
	hashes map[string]string // docID -> SHA-256 hex
	mu     sync.Mutex
}

// NewSyncer creates a syncer over the given index and archive.
func NewSyncer(ix *Index, store *history.Store) *Syncer {
	return &Syncer{
		ix:     ix,
		store:  store,
		hashes: make(map[string]string),
	}
}

// SyncNow sweeps the archive into the index. Running it at startup also
// trains the embedder vocabulary on the full transcript corpus before
// live messages trickle in.
func (s *Syncer) SyncNow(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &SyncResult{StartTime: time.Now()}

	chats, err := s.store.Chats(ctx, syncChatLimit)
	if err != nil {
		return nil, fmt.Errorf("recall sync: list chats: %w", err)
	}
	result.ChatsScanned = len(chats)

	current := make(map[string]bool)
	for _, c := range chats {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		msgs, err := s.store.RecentMessages(ctx, c.ID, syncMessageLimit)
		if err != nil {
			log.Printf("recall sync: error loading chat %s: %v", c.ID, err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.ID, err))
			continue
		}

		for _, msg := range msgs {
			id := docID(c.ID, msg.ID)
			current[id] = true

			indexed, err := s.indexIfChanged(ctx, c.ID, msg)
			if err != nil {
				log.Printf("recall sync: error indexing %s: %v", id, err)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			if indexed {
				result.MessagesIndexed++
			} else {
				result.MessagesSkipped++
			}
		}
	}

	// Drop entries whose messages were pruned or discarded.
	for id := range s.hashes {
		if current[id] {
			continue
		}
		if err := s.ix.pipeline.Remove(ctx, id); err != nil {
			log.Printf("recall sync: failed to remove stale entry %s: %v", id, err)
		} else {
			result.MessagesRemoved++
		}
		delete(s.hashes, id)
	}

	if result.MessagesIndexed > 0 || result.MessagesRemoved > 0 {
		if err := s.ix.Save(ctx); err != nil {
			log.Printf("recall sync: save failed: %v", err)
			result.Errors = append(result.Errors, fmt.Sprintf("save: %v", err))
		}
	}

	result.Duration = time.Since(result.StartTime)
	return result, nil
}

// Hook returns a callback for history.Store that indexes each message
// as it is archived. Index failures are logged, never surfaced; the
// archive write has already succeeded and must not appear to fail.
func (s *Syncer) Hook() func(chatID string, msg chat.Message) {
	return func(chatID string, msg chat.Message) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, err := s.indexIfChanged(context.Background(), chatID, msg); err != nil {
			log.Printf("recall: failed to index message %s: %v", msg.ID, err)
		}
	}
}

// Status reports how many messages the syncer is tracking.
func (s *Syncer) Status() SyncerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncerStatus{TrackedMessages: len(s.hashes)}
}

// indexIfChanged embeds the message unless its content hash matches the
// last indexed copy. Callers must hold s.mu.
func (s *Syncer) indexIfChanged(ctx context.Context, chatID string, msg chat.Message) (bool, error) {
	if msg.State != chat.StateFinal || msg.Content == "" {
		return false, nil
	}

	id := docID(chatID, msg.ID)
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(msg.Content)))
	if existing, ok := s.hashes[id]; ok && existing == hash {
		return false, nil
	}

	if err := s.ix.Add(ctx, chatID, msg); err != nil {
		return false, err
	}
	s.hashes[id] = hash
	return true, nil
}

// SyncResult contains the results of one archive sweep.
type SyncResult struct {
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	ChatsScanned    int           `json:"chats_scanned"`
	MessagesIndexed int           `json:"messages_indexed"`
	MessagesSkipped int           `json:"messages_skipped"`
	MessagesRemoved int           `json:"messages_removed"`
	Errors          []string      `json:"errors,omitempty"`
}

// SyncerStatus contains the current state of the syncer.
type SyncerStatus struct {
	TrackedMessages int `json:"tracked_messages"`
}
