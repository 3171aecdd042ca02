package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TabInfo holds metadata about an open chat tab
type TabInfo struct {
	ChatID    string
	Title     string
	HasUnread bool
}

// TabBarModel manages the chat tab bar
type TabBarModel struct {
	Tabs      []TabInfo
	ActiveIdx int
	Width     int
	Styles    Styles
}

// NewTabBarModel creates an empty tab bar
func NewTabBarModel(styles Styles) TabBarModel {
	return TabBarModel{
		ActiveIdx: 0,
		Styles:    styles,
	}
}

// AddTab adds a new tab and returns its index
func (t *TabBarModel) AddTab(chatID, title string) int {
	if title == "" {
		title = fmt.Sprintf("Chat %d", len(t.Tabs)+1)
	}
	t.Tabs = append(t.Tabs, TabInfo{
		ChatID: chatID,
		Title:  title,
	})
	return len(t.Tabs) - 1
}

// RemoveTab removes the tab at the given index
func (t *TabBarModel) RemoveTab(idx int) {
	if idx < 0 || idx >= len(t.Tabs) || len(t.Tabs) <= 1 {
		return
	}
	t.Tabs = append(t.Tabs[:idx], t.Tabs[idx+1:]...)
	if t.ActiveIdx >= len(t.Tabs) {
		t.ActiveIdx = len(t.Tabs) - 1
	}
}

// ActiveTab returns the active tab info
func (t *TabBarModel) ActiveTab() *TabInfo {
	if t.ActiveIdx >= 0 && t.ActiveIdx < len(t.Tabs) {
		return &t.Tabs[t.ActiveIdx]
	}
	return nil
}

// IndexOf returns the tab index for a chat id, or -1.
func (t *TabBarModel) IndexOf(chatID string) int {
	for i := range t.Tabs {
		if t.Tabs[i].ChatID == chatID {
			return i
		}
	}
	return -1
}

// View renders the tab bar
func (t TabBarModel) View() string {
	if len(t.Tabs) == 0 {
		return ""
	}

	var tabs []string
	for i, tab := range t.Tabs {
		label := tab.Title
		if len(label) > 24 {
			label = label[:21] + "..."
		}
		if tab.HasUnread && i != t.ActiveIdx {
			label = "* " + label
		}

		var style lipgloss.Style
		if i == t.ActiveIdx {
			style = t.Styles.TabActive
		} else if tab.HasUnread {
			style = t.Styles.TabUnread
		} else {
			style = t.Styles.TabInactive
		}

		tabs = append(tabs, style.Render(label))
	}

	bar := strings.Join(tabs, " ")
	return t.Styles.TabBar.Width(t.Width).Render(bar)
}
