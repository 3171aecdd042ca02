package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmssh "github.com/charmbracelet/ssh"
	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/sshserve"
)

var (
	sshListenFlag   string
	sshHostKeyFlag  string
	sshAuthKeysFlag string
)

var sshServerCmd = &cobra.Command{
	Use:   "ssh-server",
	Short: "Serve the chat TUI over SSH",
	Long: `Run parley headless and serve the TUI to SSH clients. Each session
gets its own rendered UI; all sessions share the same chats, archive,
and gateway connection.

With no authorized keys configured the server accepts any public key.
Use "parley ssh-keys add" to restrict access.

Example:
  parley ssh-server --listen :2222
  ssh -p 2222 user@host`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dd, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		applySSHFlags(cfg)

		stack, err := buildStack(dd, cfg)
		if err != nil {
			return err
		}
		defer stack.Close()

		stack.connect()
		stack.syncRecall()
		stack.startMaintenance()

		srv, err := newSSHServer(stack, cfg)
		if err != nil {
			return err
		}

		done := make(chan os.Signal, 1)
		signal.Notify(done, os.Interrupt, syscall.SIGTERM)

		go func() {
			log.Printf("[SSH] Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, charmssh.ErrServerClosed) {
				log.Printf("[SSH] Server error: %v", err)
				done <- syscall.SIGTERM
			}
		}()

		<-done
		log.Println("[SSH] Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, charmssh.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	sshServerCmd.Flags().StringVar(&sshListenFlag, "listen", "", "listen address (default :2222)")
	sshServerCmd.Flags().StringVar(&sshHostKeyFlag, "host-key", "", "host key path (default <data-dir>/ssh/ssh_host_key)")
	sshServerCmd.Flags().StringVar(&sshAuthKeysFlag, "authorized-keys", "", "authorized keys path (default <data-dir>/ssh/authorized_keys)")
}

// applySSHFlags merges command-line SSH overrides into the loaded config.
func applySSHFlags(cfg *config.Config) {
	if sshListenFlag != "" {
		cfg.SSH.ListenAddr = sshListenFlag
	}
	if sshHostKeyFlag != "" {
		cfg.SSH.HostKeyPath = sshHostKeyFlag
	}
	if sshAuthKeysFlag != "" {
		cfg.SSH.AuthorizedKeysPath = sshAuthKeysFlag
	}
}

// newSSHServer builds the Wish server around the stack's TUI wiring.
func newSSHServer(stack *clientStack, cfg *config.Config) (*charmssh.Server, error) {
	return sshserve.NewServer(sshserve.Config{
		ListenAddr:         cfg.SSH.ListenAddr,
		HostKeyPath:        cfg.SSH.HostKeyPath,
		AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
		TUI:                stack.tuiOptions(),
	})
}
