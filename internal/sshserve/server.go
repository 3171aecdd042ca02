package sshserve

import (
	"fmt"
	"log"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	charmssh "github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	wishbubbletea "github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"

	"parley/internal/datadir"
	"parley/internal/tui"
)

// Config holds configuration for the SSH server.
type Config struct {
	ListenAddr         string
	HostKeyPath        string
	AuthorizedKeysPath string
	// TUI carries the shared client stack. Each SSH session gets its own
	// model, event bridge, and renderer on top of it.
	TUI tui.Options
}

// NewServer creates a Wish SSH server that serves the TUI.
func NewServer(cfg Config) (*charmssh.Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":2222"
	}
	if cfg.HostKeyPath == "" {
		dd, err := datadir.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data dir for host key: %w", err)
		}
		cfg.HostKeyPath = dd.SSHFilePath("ssh_host_key")
	}

	// Load authorized keys for public key auth
	authorizedKeys, err := LoadAuthorizedKeys(cfg.AuthorizedKeysPath)
	if err != nil {
		log.Printf("[SSH] No authorized keys loaded: %v", err)
		authorizedKeys = nil
	} else {
		log.Printf("[SSH] Loaded %d authorized keys", len(authorizedKeys))
	}

	// Per-session bridges, keyed by session id, closed when the session ends.
	var mu sync.Mutex
	bridges := make(map[string]*tui.Bridge)

	handler := func(sess charmssh.Session) (tea.Model, []tea.ProgramOption) {
		sshUser := sess.User()
		if sshUser == "" {
			sshUser = "ssh-user"
		}

		// Create renderer for this SSH session so styles emit correct ANSI
		// escape sequences for the connecting terminal.
		renderer := wishbubbletea.MakeRenderer(sess)

		opts := cfg.TUI
		opts.Renderer = renderer
		opts.UserName = sshUser

		bridge := tui.NewBridge(opts.Bus)
		bridge.Start()
		mu.Lock()
		bridges[sess.Context().SessionID()] = bridge
		mu.Unlock()

		model := tui.NewModel(opts, bridge)
		model.SetSSHUser(sshUser)

		return model, []tea.ProgramOption{tea.WithAltScreen()}
	}

	// cleanup closes the session's bridge once the program has exited, so a
	// dropped connection does not leave bus subscriptions behind.
	cleanup := func(next charmssh.Handler) charmssh.Handler {
		return func(sess charmssh.Session) {
			next(sess)
			id := sess.Context().SessionID()
			mu.Lock()
			bridge := bridges[id]
			delete(bridges, id)
			mu.Unlock()
			if bridge != nil {
				bridge.Close()
			}
		}
	}

	opts := []charmssh.Option{
		wish.WithAddress(cfg.ListenAddr),
		wish.WithHostKeyPath(cfg.HostKeyPath),
		wish.WithMiddleware(
			wishbubbletea.Middleware(handler),
			cleanup,
			activeterm.Middleware(),
			logging.Middleware(),
		),
	}

	// Add public key auth if we have authorized keys
	if len(authorizedKeys) > 0 {
		opts = append(opts, wish.WithPublicKeyAuth(func(ctx charmssh.Context, key charmssh.PublicKey) bool {
			return publicKeyHandler(ctx, key, authorizedKeys)
		}))
	}

	server, err := wish.NewServer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH server: %w", err)
	}

	return server, nil
}

// publicKeyHandler validates SSH public keys against the authorized keys list
func publicKeyHandler(ctx charmssh.Context, key charmssh.PublicKey, authorizedKeys []charmssh.PublicKey) bool {
	for _, authKey := range authorizedKeys {
		if charmssh.KeysEqual(key, authKey) {
			log.Printf("[SSH] Public key accepted for user: %s", ctx.User())
			return true
		}
	}
	log.Printf("[SSH] Public key rejected for user: %s", ctx.User())
	return false
}
