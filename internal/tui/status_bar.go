package tui

import (
	"fmt"
	"strings"
)

// StatusBarModel manages the bottom status bar
type StatusBarModel struct {
	Connected    bool
	Reconnecting bool
	GaveUp       bool
	QueuedFrames int
	ServerURL    string
	ChatTitle    string
	ActiveTool   string
	SSHUser      string // set for SSH sessions
	Width        int
	Styles       Styles
}

// NewStatusBarModel creates a new status bar
func NewStatusBarModel(styles Styles) StatusBarModel {
	return StatusBarModel{
		Styles: styles,
	}
}

// View renders the status bar
func (s StatusBarModel) View() string {
	var parts []string

	// Connection status indicator
	switch {
	case s.Connected:
		parts = append(parts, s.Styles.StatusConnected.Render("* connected"))
	case s.GaveUp:
		parts = append(parts, s.Styles.StatusDisconnected.Render("x offline (ctrl+r to retry)"))
	case s.Reconnecting:
		parts = append(parts, s.Styles.StatusReconnecting.Render("~ reconnecting"))
	default:
		parts = append(parts, s.Styles.StatusDisconnected.Render("x disconnected"))
	}

	// Pending frames waiting for the connection to come back
	if s.QueuedFrames > 0 {
		parts = append(parts, s.Styles.StatusReconnecting.Render(fmt.Sprintf("%d queued", s.QueuedFrames)))
	}

	// Server URL (shortened)
	if s.ServerURL != "" {
		url := s.ServerURL
		// Strip ws:// prefix for brevity
		url = strings.TrimPrefix(url, "ws://")
		url = strings.TrimPrefix(url, "wss://")
		if len(url) > 25 {
			url = url[:22] + "..."
		}
		parts = append(parts, s.Styles.Muted.Render(url))
	}

	// Active chat title
	if s.ChatTitle != "" {
		title := s.ChatTitle
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		parts = append(parts, s.Styles.Accent.Render(title))
	}

	// Running tool
	if s.ActiveTool != "" {
		parts = append(parts, s.Styles.Accent.Render("tool: "+s.ActiveTool))
	}

	// SSH indicator
	if s.SSHUser != "" {
		parts = append(parts, s.Styles.Accent.Render(fmt.Sprintf("SSH: %s", s.SSHUser)))
	}

	content := strings.Join(parts, "  |  ")
	return s.Styles.StatusBar.Width(s.Width).Render(content)
}
