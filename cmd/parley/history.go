package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/chat"
	"parley/internal/history"
)

var (
	historyLimitFlag int
	showLimitFlag    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the transcript archive",
	Long: `Browse locally archived chats. Only confirmed messages are archived;
placeholders rolled back by a failed send never reach the archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListCmd.RunE(cmd, args)
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		store, err := history.NewStore(cfg.ArchivePath(dd.DatabaseDir()))
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		chats, err := store.Chats(ctx, historyLimitFlag)
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No archived chats yet.")
			return nil
		}

		loc := cfg.GetLocation()
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "CHAT ID\tTITLE\tMESSAGES\tUPDATED")
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				c.ID, title, c.MessageCount, c.UpdatedAt.In(loc).Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Print a chat transcript",
	Long:  `Print the most recent messages of an archived chat. A unique chat id prefix is enough.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		store, err := history.NewStore(cfg.ArchivePath(dd.DatabaseDir()))
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chatID, title, err := resolveChatID(ctx, store, args[0])
		if err != nil {
			return err
		}
		msgs, err := store.RecentMessages(ctx, chatID, showLimitFlag)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Printf("Chat %s has no archived messages.\n", chatID)
			return nil
		}

		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  [%s]\n\n", title, chatID)
		loc := cfg.GetLocation()
		for _, m := range msgs {
			printArchivedMessage(m, loc)
		}
		return nil
	},
}

var historyFindCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Full-text search across all transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		store, err := history.NewStore(cfg.ArchivePath(dd.DatabaseDir()))
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		query := strings.Join(args, " ")
		results, err := store.SearchMessages(ctx, query, historyLimitFlag)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Printf("No matches for %q.\n", query)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "CHAT ID\tROLE\tMESSAGE")
		for _, r := range results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ChatID, r.Role, firstLine(r.Content, 80))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimitFlag, "limit", 20, "maximum rows to print")
	historyShowCmd.Flags().IntVar(&showLimitFlag, "messages", 50, "maximum messages to print")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyFindCmd)
}

// resolveChatID matches a full chat id or a unique prefix against the
// archived chats and returns the id and title.
func resolveChatID(ctx context.Context, store *history.Store, idOrPrefix string) (string, string, error) {
	chats, err := store.Chats(ctx, 1000)
	if err != nil {
		return "", "", err
	}
	var hits []history.Chat
	for _, c := range chats {
		if c.ID == idOrPrefix {
			return c.ID, c.Title, nil
		}
		if strings.HasPrefix(c.ID, idOrPrefix) {
			hits = append(hits, c)
		}
	}
	switch len(hits) {
	case 1:
		return hits[0].ID, hits[0].Title, nil
	case 0:
		return "", "", fmt.Errorf("no archived chat matches %q", idOrPrefix)
	default:
		return "", "", fmt.Errorf("chat id %q is ambiguous (%d matches)", idOrPrefix, len(hits))
	}
}

func printArchivedMessage(m chat.Message, loc *time.Location) {
	marker := "  "
	switch m.Feedback {
	case chat.FeedbackUp:
		marker = "+1"
	case chat.FeedbackDown:
		marker = "-1"
	}
	fmt.Printf("[%s] %-9s %s\n", m.CreatedAt.In(loc).Format("2006-01-02 15:04"), m.Role+":", m.Content)
	if marker != "  " {
		fmt.Printf("           feedback: %s\n", marker)
	}
	for _, f := range m.Files {
		fmt.Printf("           file: %s\n", f)
	}
	fmt.Println()
}

// firstLine clips s to its first line, capped at max runes.
func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
