package tui

import (
	"parley/internal/chat"
	"parley/internal/history"
	"parley/internal/recall"
)

// BubbleTea message types produced by the event bridge

// ChatUpdatedMsg signals that a conversation's transcript changed and the
// view should re-render it.
type ChatUpdatedMsg struct {
	ChatID string
}

// ChatListChangedMsg signals that chat metadata (title, ordering) changed.
type ChatListChangedMsg struct {
	ChatID string
	Title  string
}

// ConnLostMsg signals that the socket dropped and is retrying on its own.
type ConnLostMsg struct {
	Err error
}

// ConnRestoredMsg signals a successful reconnect.
type ConnRestoredMsg struct{}

// ConnGaveUpMsg signals that the socket exhausted its reconnect attempts
// and now waits for an explicit redial.
type ConnGaveUpMsg struct{}

// WarningMsg carries a server-issued context or performance warning.
type WarningMsg struct {
	ChatID string
	Text   string
}

// ChatRowsMsg delivers the recent-chats listing for the sidebar.
type ChatRowsMsg struct {
	Rows []history.Chat
}

// SearchDoneMsg delivers the results of a /search command.
type SearchDoneMsg struct {
	ChatID  string
	Query   string
	Matches []recall.Match
	Texts   []history.SearchResult
	Err     error
}

// ActionDoneMsg reports the outcome of a fire-and-forget action such as a
// tool launch or feedback submission.
type ActionDoneMsg struct {
	ChatID string
	Text   string
	Err    error
}

// ResumedMsg delivers an archived chat's recent transcript so it can be
// reopened in a tab.
type ResumedMsg struct {
	ChatID   string
	Title    string
	Messages []chat.Message
	Err      error
}

// ReconnectedMsg reports the outcome of a manual reconnect request.
type ReconnectedMsg struct {
	Err error
}

// ThinkingTickMsg drives the KITT scanner animation in the transcript.
type ThinkingTickMsg struct{}
