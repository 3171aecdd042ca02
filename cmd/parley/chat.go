package main

import (
	"context"
	"errors"
	"log"
	"time"

	charmssh "github.com/charmbracelet/ssh"
	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/tui"
)

var (
	chatURLFlag    string
	chatAPIURLFlag string
	chatTokenFlag  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the chat TUI (default)",
	Long: `Open the interactive chat TUI. Connects to the gateway's WebSocket
for live traffic and to its REST API for sends, tool runs, and feedback.
Messages typed while offline are queued and flushed on reconnect.

Key bindings:
  Enter           Send message
  Alt+Enter       Insert newline
  Ctrl+T          New chat tab
  Ctrl+W          Close tab
  Alt+Left/Right  Switch tabs
  Tab             Toggle sidebar
  Shift+Tab       Cycle sidebar tabs
  PageUp/PageDown Scroll transcript
  Ctrl+R          Reconnect when offline
  Ctrl+C          Quit

Slash commands inside the TUI: /help /stop /search /resume /tool /feedback`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		applyServerFlags(cfg)

		stack, err := buildStack(dd, cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		stack.connect()
		stack.syncRecall()
		stack.startMaintenance()

		// An SSH server enabled in the config runs alongside the local
		// TUI, sharing the same chats and socket.
		if cfg.SSH.Enabled {
			srv, err := newSSHServer(stack, cfg)
			if err != nil {
				log.Printf("[SSH] Server disabled: %v", err)
			} else {
				go func() {
					log.Printf("[SSH] Listening on %s", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, charmssh.ErrServerClosed) {
						log.Printf("[SSH] Server error: %v", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(ctx)
				}()
			}
		}

		return tui.Run(stack.tuiOptions())
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatURLFlag, "url", "", "gateway WebSocket URL (overrides config)")
	chatCmd.Flags().StringVar(&chatAPIURLFlag, "api-url", "", "gateway REST URL (overrides config)")
	chatCmd.Flags().StringVar(&chatTokenFlag, "token", "", "auth token (overrides config)")
}

// applyServerFlags merges command-line connection overrides into the
// loaded config.
func applyServerFlags(cfg *config.Config) {
	if chatURLFlag != "" {
		cfg.Server.SocketURL = chatURLFlag
	}
	if chatAPIURLFlag != "" {
		cfg.Server.APIURL = chatAPIURLFlag
	}
	if chatTokenFlag != "" {
		cfg.Server.Token = chatTokenFlag
	}
}
