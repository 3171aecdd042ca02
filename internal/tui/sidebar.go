package tui

import (
	"fmt"
	"strings"
	"time"

	"parley/internal/history"
	"parley/internal/streams"
)

// SidebarTab represents the active tab in the sidebar
type SidebarTab int

const (
	SidebarTabChats SidebarTab = iota
	SidebarTabTools
	SidebarTabStatus
)

// SidebarModel manages the information sidebar
type SidebarModel struct {
	ActiveTab SidebarTab
	Width     int
	Height    int
	Visible   bool
	Styles    Styles

	// Chats tab
	Chats        []history.Chat
	ActiveChatID string
	Location     *time.Location

	// Tools tab
	Streams   []streams.ToolStream
	ToolNames map[string]string

	// Status tab
	Connected    bool
	GaveUp       bool
	QueuedFrames int
	ServerURL    string
	ClientID     string
	Version      string
	KnownTools   int
	OpenChats    int
}

// NewSidebarModel creates a new sidebar
func NewSidebarModel(styles Styles) SidebarModel {
	return SidebarModel{
		ActiveTab: SidebarTabChats,
		Width:     40,
		Visible:   false,
		Styles:    styles,
	}
}

// CycleTab cycles to the next sidebar tab
func (s *SidebarModel) CycleTab() {
	s.ActiveTab = (s.ActiveTab + 1) % 3
}

// View renders the sidebar
func (s SidebarModel) View() string {
	if !s.Visible {
		return ""
	}

	var sb strings.Builder

	// Tab header
	tabs := []string{"Chats", "Tools", "Status"}
	var tabLine []string
	for i, tab := range tabs {
		if SidebarTab(i) == s.ActiveTab {
			tabLine = append(tabLine, s.Styles.SidebarTabActive.Render(tab))
		} else {
			tabLine = append(tabLine, s.Styles.SidebarTabInactive.Render(tab))
		}
	}
	sb.WriteString(strings.Join(tabLine, " | "))
	sb.WriteString("\n\n")

	// Tab content
	switch s.ActiveTab {
	case SidebarTabChats:
		sb.WriteString(s.renderChatsTab())
	case SidebarTabTools:
		sb.WriteString(s.renderToolsTab())
	case SidebarTabStatus:
		sb.WriteString(s.renderStatusTab())
	}

	content := sb.String()

	return s.Styles.SidebarBorder.
		Width(s.Width).
		Height(s.Height).
		Render(content)
}

func (s SidebarModel) renderChatsTab() string {
	var sb strings.Builder
	sb.WriteString(s.Styles.SidebarTitle.Render("Recent Chats"))
	sb.WriteString("\n")

	if len(s.Chats) == 0 {
		sb.WriteString(s.Styles.Muted.Render("No archived chats yet"))
		return sb.String()
	}

	maxTitle := s.Width - 12
	if maxTitle < 8 {
		maxTitle = 8
	}

	for _, c := range s.Chats {
		title := c.Title
		if title == "" {
			title = c.ID
		}
		if len(title) > maxTitle {
			title = title[:maxTitle-3] + "..."
		}

		line := fmt.Sprintf("%s (%d)", title, c.MessageCount)
		if c.ID == s.ActiveChatID {
			sb.WriteString(s.Styles.Bold.Render("> " + line))
		} else {
			sb.WriteString("  " + line)
		}
		sb.WriteString("\n")
		sb.WriteString(s.Styles.Muted.Render("    " + s.formatWhen(c.UpdatedAt)))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (s SidebarModel) renderToolsTab() string {
	var sb strings.Builder
	sb.WriteString(s.Styles.SidebarTitle.Render("Tool Activity"))
	sb.WriteString("\n")

	if len(s.Streams) == 0 {
		sb.WriteString(s.Styles.Muted.Render("No recent activity"))
		return sb.String()
	}

	for _, ts := range s.Streams {
		sb.WriteString(renderToolBlock(ts, s.ToolNames, s.Styles, s.Width))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (s SidebarModel) renderStatusTab() string {
	var sb strings.Builder

	// Connection section
	sb.WriteString(s.Styles.SidebarTitle.Render("Connection"))
	sb.WriteString("\n")

	switch {
	case s.Connected:
		sb.WriteString(s.Styles.StatusConnected.Render("* Connected"))
	case s.GaveUp:
		sb.WriteString(s.Styles.StatusDisconnected.Render("* Offline (gave up)"))
	default:
		sb.WriteString(s.Styles.StatusDisconnected.Render("* Disconnected"))
	}
	sb.WriteString("\n")

	if s.ServerURL != "" {
		url := s.ServerURL
		if len(url) > s.Width-4 {
			url = url[:s.Width-7] + "..."
		}
		sb.WriteString(fmt.Sprintf("URL: %s\n", url))
	}

	if s.ClientID != "" {
		id := s.ClientID
		if len(id) > s.Width-11 {
			id = id[:s.Width-14] + "..."
		}
		sb.WriteString(fmt.Sprintf("Client: %s\n", id))
	}

	if s.QueuedFrames > 0 {
		sb.WriteString(fmt.Sprintf("Queued: %d frames\n", s.QueuedFrames))
	}

	// Client section
	sb.WriteString("\n")
	sb.WriteString(s.Styles.SidebarTitle.Render("Client"))
	sb.WriteString("\n")

	if s.Version != "" {
		sb.WriteString(fmt.Sprintf("Version: %s\n", s.Version))
	}
	sb.WriteString(fmt.Sprintf("Open chats: %d\n", s.OpenChats))
	if s.KnownTools > 0 {
		sb.WriteString(fmt.Sprintf("Tools:      %d\n", s.KnownTools))
	}

	return sb.String()
}

// formatWhen renders an activity timestamp compactly, relative for the
// recent past and absolute beyond a day.
func (s SidebarModel) formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		if s.Location != nil {
			return t.In(s.Location).Format("Jan 2")
		}
		return t.Format("Jan 2")
	}
}

// SidebarWidth returns the width of the sidebar when visible, 0 otherwise
func (s SidebarModel) SidebarWidth() int {
	if !s.Visible {
		return 0
	}
	return s.Width
}

// The sidebar border style includes a left border character, account for it
func sidebarBorderWidth() int {
	return 1 // lipgloss NormalBorder left border is 1 char
}

// TotalSidebarWidth returns the total width including border
func (s SidebarModel) TotalSidebarWidth() int {
	if !s.Visible {
		return 0
	}
	return s.Width + sidebarBorderWidth() + 2 // border + padding
}
