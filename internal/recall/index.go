package recall

import (
	"context"
	"fmt"
	"log"
	"strings"

	"parley/internal/chat"

	"github.com/jefflaplante/vecgo"
	"github.com/jefflaplante/vecgo/chunker"
	"github.com/jefflaplante/vecgo/embedder"
)

// Config holds configuration for the transcript recall index.
type Config struct {
	DBPath    string            // Path to SQLite persistence file (empty = in-memory)
	ChunkSize int               // Max tokens per chunk
	EmbedDims int               // TF-IDF embedding dimensions
	HNSWM     int               // HNSW max connections per node
	HNSWEfC   int               // HNSW construction search depth
	HNSWEfS   int               // HNSW query search depth
	Embedder  embedder.Embedder // Optional: if nil, uses TF-IDF default
}

// DefaultConfig returns sensible defaults for the recall index.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 500,
		EmbedDims: 4096,
		HNSWM:     16,
		HNSWEfC:   200,
		HNSWEfS:   50,
	}
}

func (c Config) resolveEmbedder() embedder.Embedder {
	if c.Embedder != nil {
		return c.Embedder
	}
	return embedder.NewTFIDF(c.EmbedDims)
}

// Match is one transcript fragment found by a semantic search.
type Match struct {
	ChatID    string
	MessageID string
	Role      string
	Snippet   string
	Score     float64
}

// Index embeds archived chat messages and answers similarity queries
// over them. TF-IDF embeddings keep everything local; no network calls.
type Index struct {
	pipeline *vecgo.Pipeline
	cfg      Config
}

// NewIndex builds the embedding pipeline and loads any persisted state.
func NewIndex(cfg Config) (*Index, error) {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.EmbedDims <= 0 {
		cfg.EmbedDims = def.EmbedDims
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = def.HNSWM
	}
	if cfg.HNSWEfC <= 0 {
		cfg.HNSWEfC = def.HNSWEfC
	}
	if cfg.HNSWEfS <= 0 {
		cfg.HNSWEfS = def.HNSWEfS
	}

	builder := vecgo.NewBuilder().
		WithChunker(chunker.NewMarkdown(cfg.ChunkSize)).
		WithEmbedder(cfg.resolveEmbedder()).
		WithHNSW(cfg.HNSWM, cfg.HNSWEfC, cfg.HNSWEfS)

	if cfg.DBPath != "" {
		builder = builder.WithSQLite(cfg.DBPath)
	}

	pipeline, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("recall: build pipeline: %w", err)
	}

	// Persisted state is optional; an empty or missing file starts fresh.
	if cfg.DBPath != "" {
		if loadErr := pipeline.Load(context.Background()); loadErr != nil {
			log.Printf("recall: loading persisted state: %v (starting fresh)", loadErr)
		}
	}

	return &Index{pipeline: pipeline, cfg: cfg}, nil
}

// Add embeds one archived message. Placeholders and blank messages are
// skipped so the index only ever holds confirmed transcript text.
func (ix *Index) Add(ctx context.Context, chatID string, msg chat.Message) error {
	if msg.State != chat.StateFinal {
		return nil
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	meta := map[string]string{
		"chat":    chatID,
		"message": msg.ID,
		"role":    string(msg.Role),
	}
	if err := ix.pipeline.Add(ctx, docID(chatID, msg.ID), msg.Content, meta); err != nil {
		return fmt.Errorf("recall: index message: %w", err)
	}
	return nil
}

// Forget removes a message from the index.
func (ix *Index) Forget(ctx context.Context, chatID, messageID string) error {
	if err := ix.pipeline.Remove(ctx, docID(chatID, messageID)); err != nil {
		return fmt.Errorf("recall: remove message: %w", err)
	}
	return nil
}

// Search returns the transcript fragments most similar to the query.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}

	results, err := ix.pipeline.Search(ctx, query, limit)
	if err != nil {
		// A brand new index has nothing to search; that is not an error.
		if strings.Contains(err.Error(), "empty corpus") || strings.Contains(err.Error(), "not trained") {
			return nil, nil
		}
		return nil, fmt.Errorf("recall: search: %w", err)
	}

	out := make([]Match, len(results))
	for i, r := range results {
		out[i] = Match{
			ChatID:    r.Metadata["chat"],
			MessageID: r.Metadata["message"],
			Role:      r.Metadata["role"],
			Snippet:   r.Content,
			Score:     float64(r.Score),
		}
	}
	return out, nil
}

// Save persists the current index state to disk.
func (ix *Index) Save(ctx context.Context) error {
	if ix.cfg.DBPath == "" {
		return nil
	}
	return ix.pipeline.Save(ctx)
}

// Close flushes persistent state and releases the pipeline.
func (ix *Index) Close() error {
	if ix.cfg.DBPath != "" {
		if err := ix.pipeline.Save(context.Background()); err != nil {
			log.Printf("recall: save on close: %v", err)
		}
	}
	return ix.pipeline.Close()
}

func docID(chatID, messageID string) string {
	return chatID + "/" + messageID
}
