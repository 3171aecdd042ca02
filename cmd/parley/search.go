package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/history"
	"parley/internal/recall"
)

var searchLimitFlag int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the archive semantically",
	Long: `Search archived transcripts by meaning rather than exact words. The
recall index is synced against the archive before querying, so recent
messages are always covered. Falls back to full-text matching when the
semantic index has nothing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		if !cfg.Recall.Enabled {
			return fmt.Errorf("recall is disabled in the configuration (use \"parley history find\" for full-text search)")
		}

		store, err := history.NewStore(cfg.ArchivePath(dd.DatabaseDir()))
		if err != nil {
			return err
		}
		defer store.Close()

		index, err := recall.NewIndex(recall.Config{
			DBPath:    cfg.RecallPath(dd.DatabaseDir()),
			ChunkSize: cfg.Recall.ChunkSize,
			EmbedDims: cfg.Recall.EmbedDims,
		})
		if err != nil {
			return fmt.Errorf("failed to open recall index: %w", err)
		}
		defer index.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		syncer := recall.NewSyncer(index, store)
		if res, err := syncer.SyncNow(ctx); err != nil {
			log.Printf("[CLI] Recall sync failed: %v (results may be stale)", err)
		} else if res.MessagesIndexed > 0 && verbose {
			log.Printf("[CLI] Indexed %d new messages before searching", res.MessagesIndexed)
		}

		query := strings.Join(args, " ")
		matches, err := index.Search(ctx, query, searchLimitFlag)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if len(matches) > 0 {
			fmt.Printf("Semantic matches for %q:\n\n", query)
			for _, m := range matches {
				fmt.Printf("  %.2f  [%s] %s: %s\n", m.Score, shortChatID(m.ChatID), m.Role, firstLine(m.Snippet, 90))
			}
			fmt.Printf("\nUse \"parley history show <chat-id>\" to read a chat.\n")
			return nil
		}

		// Nothing semantic; try exact words.
		results, err := store.SearchMessages(ctx, query, searchLimitFlag)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Printf("No matches for %q.\n", query)
			return nil
		}
		fmt.Printf("Text matches for %q:\n\n", query)
		for _, r := range results {
			fmt.Printf("  [%s] %s: %s\n", shortChatID(r.ChatID), r.Role, firstLine(r.Content, 90))
		}
		fmt.Printf("\nUse \"parley history show <chat-id>\" to read a chat.\n")
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimitFlag, "limit", 10, "maximum matches to print")
}

func shortChatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
