package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"parley/internal/catalog"
	"parley/internal/chat"
	"parley/internal/events"
	"parley/internal/history"
	"parley/internal/recall"
	"parley/internal/transport"
)

// Options holds everything the TUI needs to run. Manager, Socket, and Bus
// are required; Archive, Recall, and Catalog are optional and disable their
// features when nil.
type Options struct {
	Manager *chat.Manager
	Socket  *transport.Socket
	Bus     *events.Bus
	Archive *history.Store
	Recall  *recall.Index
	Catalog *catalog.Catalog

	UserName      string
	AssistantName string
	ServerURL     string
	Version       string
	// Location is the timezone for rendering timestamps. If nil, times render as-is.
	Location *time.Location
	// Renderer is the Lip Gloss renderer to use for styling. Over SSH, pass the
	// renderer from wishbubbletea.MakeRenderer so colors work correctly. If nil,
	// the default renderer (local terminal) is used.
	Renderer *lipgloss.Renderer
}

// tabState tracks one open chat tab.
type tabState struct {
	ChatID     string
	Transcript TranscriptModel
}

// Model is the root BubbleTea model
type Model struct {
	opts   Options
	styles Styles
	bridge *Bridge

	// Sub-models
	tabBar    TabBarModel
	sidebar   SidebarModel
	statusBar StatusBarModel
	input     textarea.Model

	// Open chats, parallel to tabBar.Tabs
	tabs []tabState

	// Global state
	width         int
	height        int
	quitting      bool
	thinking      bool
	assistantName string
	userName      string
	toolNames     map[string]string
}

// NewModel creates the root TUI model with one fresh chat open.
func NewModel(opts Options, bridge *Bridge) Model {
	r := opts.Renderer
	if r == nil {
		r = lipgloss.DefaultRenderer()
	}
	styles := NewStyles(r)

	// Create text input
	ti := textarea.New()
	ti.Placeholder = "Type a message... (Enter to send, Alt+Enter for new line)"
	ti.ShowLineNumbers = false
	ti.SetHeight(3)
	ti.SetWidth(80)
	ti.Focus()
	ti.CharLimit = 4000
	ti.Cursor.SetChar("█")
	ti.Cursor.Style = styles.WhiteCursor
	ti.Cursor.Blink = false // Disable blinking for SSH compatibility

	assistantName := opts.AssistantName
	if assistantName == "" {
		assistantName = "Assistant"
	}

	toolNames := map[string]string{}
	knownTools := 0
	if opts.Catalog != nil {
		toolNames = opts.Catalog.DisplayNames()
		knownTools = len(opts.Catalog.Tools())
	}

	m := Model{
		opts:          opts,
		styles:        styles,
		bridge:        bridge,
		tabBar:        NewTabBarModel(styles),
		sidebar:       NewSidebarModel(styles),
		statusBar:     NewStatusBarModel(styles),
		input:         ti,
		assistantName: assistantName,
		userName:      opts.UserName,
		toolNames:     toolNames,
	}

	m.statusBar.ServerURL = opts.ServerURL
	m.sidebar.ServerURL = opts.ServerURL
	m.sidebar.Version = opts.Version
	m.sidebar.KnownTools = knownTools
	m.sidebar.Location = opts.Location
	m.sidebar.ToolNames = toolNames

	// Open the first chat
	chatID := uuid.NewString()
	if _, err := opts.Manager.Open(chatID); err != nil {
		log.Printf("[TUI] open initial chat: %v", err)
	}
	m.tabBar.AddTab(chatID, "")
	t := NewTranscriptModel(styles, assistantName, opts.Location)
	t.UserName = opts.UserName
	t.ToolNames = toolNames
	m.tabs = []tabState{{ChatID: chatID, Transcript: t}}

	m.syncSocket()
	m.syncActiveChat()

	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.bridge.WaitCmd()}
	if m.opts.Archive != nil {
		cmds = append(cmds, m.loadChatsCmd())
	}
	return tea.Batch(cmds...)
}

// activeTab returns the state of the currently selected tab
func (m *Model) activeTab() *tabState {
	idx := m.tabBar.ActiveIdx
	if idx >= 0 && idx < len(m.tabs) {
		return &m.tabs[idx]
	}
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()

	case tea.KeyMsg:
		cmd, handled := m.handleKeyMsg(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if m.quitting {
			return m, tea.Quit
		}
		if handled {
			return m, tea.Batch(cmds...)
		}

	case ChatUpdatedMsg:
		if idx := m.tabBar.IndexOf(msg.ChatID); idx >= 0 {
			m.refreshTab(idx)
			if idx != m.tabBar.ActiveIdx {
				m.tabBar.Tabs[idx].HasUnread = true
			} else {
				m.syncActiveChat()
				if !m.thinking && m.activeThinking() {
					m.thinking = true
					cmds = append(cmds, thinkingTickCmd())
				}
			}
		}
		m.syncSocket()

	case ChatListChangedMsg:
		if idx := m.tabBar.IndexOf(msg.ChatID); idx >= 0 && msg.Title != "" {
			m.tabBar.Tabs[idx].Title = msg.Title
			if idx == m.tabBar.ActiveIdx {
				m.statusBar.ChatTitle = msg.Title
			}
		}
		if m.opts.Archive != nil {
			cmds = append(cmds, m.loadChatsCmd())
		}

	case ConnLostMsg:
		m.syncSocket()
		text := "Connection lost. Retrying in the background..."
		if msg.Err != nil {
			text = "Connection lost: " + msg.Err.Error()
		}
		m.noteActive(text)

	case ConnRestoredMsg:
		m.syncSocket()
		m.noteActive("Reconnected.")

	case ConnGaveUpMsg:
		m.syncSocket()
		m.noteActive("Still offline after repeated attempts. Press Ctrl+R to reconnect.")

	case WarningMsg:
		idx := m.tabBar.IndexOf(msg.ChatID)
		if idx < 0 {
			idx = m.tabBar.ActiveIdx
		}
		if idx >= 0 && idx < len(m.tabs) {
			m.tabs[idx].Transcript.AddNote(msg.Text)
			m.refreshTab(idx)
			if idx != m.tabBar.ActiveIdx {
				m.tabBar.Tabs[idx].HasUnread = true
			}
		}

	case ThinkingTickMsg:
		if m.activeThinking() {
			if s := m.activeTab(); s != nil {
				s.Transcript.ThinkingTick()
				m.refreshTab(m.tabBar.ActiveIdx)
			}
			cmds = append(cmds, thinkingTickCmd())
		} else {
			m.thinking = false
		}

	case ChatRowsMsg:
		m.sidebar.Chats = msg.Rows

	case SearchDoneMsg:
		idx := m.tabBar.IndexOf(msg.ChatID)
		if idx < 0 {
			idx = m.tabBar.ActiveIdx
		}
		if idx >= 0 && idx < len(m.tabs) {
			m.tabs[idx].Transcript.AddNote(renderSearchNote(msg))
			m.refreshTab(idx)
		}

	case ResumedMsg:
		if msg.Err != nil {
			m.noteActive("Could not load archived chat: " + msg.Err.Error())
		} else {
			cmds = append(cmds, m.openChatTab(msg.ChatID, msg.Title, msg.Messages))
		}

	case ActionDoneMsg:
		idx := m.tabBar.IndexOf(msg.ChatID)
		if idx < 0 {
			idx = m.tabBar.ActiveIdx
		}
		if idx >= 0 && idx < len(m.tabs) {
			text := msg.Text
			if msg.Err != nil {
				text = fmt.Sprintf("%s: %v", msg.Text, msg.Err)
			}
			m.tabs[idx].Transcript.AddNote(text)
			m.refreshTab(idx)
		}

	case ReconnectedMsg:
		m.syncSocket()
		if msg.Err != nil {
			m.noteActive("Reconnect failed: " + msg.Err.Error())
		}
	}

	// Re-arm the bridge waiter after handling any bridged event
	switch msg.(type) {
	case ChatUpdatedMsg, ChatListChangedMsg, ConnLostMsg, ConnRestoredMsg,
		ConnGaveUpMsg, WarningMsg:
		cmds = append(cmds, m.bridge.WaitCmd())
	}

	// Update textarea
	var tiCmd tea.Cmd
	m.input, tiCmd = m.input.Update(msg)
	if tiCmd != nil {
		cmds = append(cmds, tiCmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyMsg processes keyboard input.
// Returns (cmd, handled) where handled=true prevents the textarea from also processing the key.
func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Cmd, bool) {
	key := msg.String()

	switch key {
	case "ctrl+c":
		m.quitting = true
		return tea.Quit, true

	case "ctrl+t":
		// Open a fresh chat in a new tab
		return m.openChatTab(uuid.NewString(), "", nil), true

	case "ctrl+w":
		// Close current tab
		if len(m.tabBar.Tabs) > 1 {
			idx := m.tabBar.ActiveIdx
			chatID := m.tabs[idx].ChatID
			if err := m.opts.Manager.Leave(chatID); err != nil {
				log.Printf("[TUI] leave chat %s: %v", chatID, err)
			}
			m.tabBar.RemoveTab(idx)
			m.tabs = append(m.tabs[:idx], m.tabs[idx+1:]...)
			return m.activateTab(m.tabBar.ActiveIdx), true
		}
		return nil, true

	case "alt+left":
		// Previous tab
		if m.tabBar.ActiveIdx > 0 {
			return m.activateTab(m.tabBar.ActiveIdx - 1), true
		}
		return nil, true

	case "alt+right":
		// Next tab
		if m.tabBar.ActiveIdx < len(m.tabBar.Tabs)-1 {
			return m.activateTab(m.tabBar.ActiveIdx + 1), true
		}
		return nil, true

	case "tab":
		// Toggle sidebar
		m.sidebar.Visible = !m.sidebar.Visible
		m.updateLayout()
		if m.sidebar.Visible && m.opts.Archive != nil {
			return m.loadChatsCmd(), true
		}
		return nil, true

	case "shift+tab":
		// Cycle sidebar tabs
		m.sidebar.CycleTab()
		return nil, true

	case "pgup":
		if s := m.activeTab(); s != nil {
			s.Transcript.Viewport.HalfViewUp()
		}
		return nil, true

	case "pgdown":
		if s := m.activeTab(); s != nil {
			s.Transcript.Viewport.HalfViewDown()
		}
		return nil, true

	case "ctrl+r":
		// Manual reconnect covers both the gave-up state and a client
		// that started offline and has no retry loop running.
		if !m.opts.Socket.IsConnected() {
			m.noteActive("Reconnecting...")
			return m.reconnectCmd(), true
		}
		return nil, true

	case "alt+enter":
		// Insert newline into textarea
		m.input.InsertString("\n")
		return nil, true

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return nil, true
		}

		if text == "/quit" || text == "/exit" {
			m.quitting = true
			return tea.Quit, true
		}

		m.input.Reset()

		if strings.HasPrefix(text, "/") {
			return m.handleCommand(text), true
		}
		return m.sendCurrent(text), true
	}

	return nil, false
}

// sendCurrent submits text on the active chat.
func (m *Model) sendCurrent(text string) tea.Cmd {
	s := m.activeTab()
	if s == nil {
		return nil
	}
	conv := m.opts.Manager.Conversation(s.ChatID)
	err := conv.SendMessage(context.Background(), chat.SendRequest{Text: text})
	switch {
	case errors.Is(err, chat.ErrSendInFlight):
		s.Transcript.AddNote("A reply is still in progress. /stop cancels it.")
	case err != nil:
		s.Transcript.AddNote("Could not send: " + err.Error())
	}
	m.refreshTab(m.tabBar.ActiveIdx)
	m.syncSocket()
	if !m.thinking && m.activeThinking() {
		m.thinking = true
		return thinkingTickCmd()
	}
	return nil
}

// handleCommand dispatches a local slash command.
func (m *Model) handleCommand(text string) tea.Cmd {
	s := m.activeTab()
	if s == nil {
		return nil
	}
	conv := m.opts.Manager.Conversation(s.ChatID)

	parts := strings.SplitN(text, " ", 2)
	cmd := parts[0]
	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/help", "/commands":
		s.Transcript.AddNote(
			"Available Commands:\n\n" +
				"/search <query> - Search archived chats\n" +
				"/resume <chat-id> - Reopen an archived chat\n" +
				"/tool <name> [input] - Launch a tool\n" +
				"/feedback up|down - Rate the latest reply\n" +
				"/stop - Cancel the request in flight\n" +
				"/help - Show this message\n" +
				"/quit, /exit - Exit\n\n" +
				"Ctrl+T: New chat | Ctrl+W: Close tab\n" +
				"Alt+Left/Right: Switch tabs\n" +
				"Alt+Enter: Insert new line\n" +
				"Tab: Toggle sidebar | Shift+Tab: Cycle sidebar\n" +
				"PgUp/PgDn: Scroll chat | Ctrl+R: Reconnect | Ctrl+C: Quit")

	case "/stop":
		if err := conv.Stop(); err != nil {
			if errors.Is(err, chat.ErrNoActiveRequest) {
				s.Transcript.AddNote("Nothing to stop.")
			} else {
				s.Transcript.AddNote("Stop request not sent: " + err.Error())
			}
		} else {
			s.Transcript.AddNote("Stopping...")
		}

	case "/search":
		if args == "" {
			s.Transcript.AddNote("Usage: /search <query>")
			break
		}
		if m.opts.Archive == nil && m.opts.Recall == nil {
			s.Transcript.AddNote("Search is not available without an archive.")
			break
		}
		s.Transcript.AddNote(fmt.Sprintf("Searching for %q...", args))
		m.refreshTab(m.tabBar.ActiveIdx)
		return m.searchCmd(s.ChatID, args)

	case "/resume":
		if args == "" {
			s.Transcript.AddNote("Usage: /resume <chat-id> (see the sidebar for recent chats)")
			break
		}
		if m.opts.Archive == nil {
			s.Transcript.AddNote("Resume is not available without an archive.")
			break
		}
		row, ok := m.findArchivedChat(args)
		if !ok {
			s.Transcript.AddNote(fmt.Sprintf("No archived chat matches %q.", args))
			break
		}
		if idx := m.tabBar.IndexOf(row.ID); idx >= 0 {
			return m.activateTab(idx)
		}
		return m.resumeCmd(row.ID, row.Title)

	case "/tool":
		if args == "" {
			s.Transcript.AddNote("Usage: /tool <name> [input]")
			break
		}
		toolParts := strings.SplitN(args, " ", 2)
		tool := toolParts[0]
		toolArgs := map[string]interface{}{}
		if len(toolParts) > 1 && strings.TrimSpace(toolParts[1]) != "" {
			toolArgs["query"] = strings.TrimSpace(toolParts[1])
		}
		if err := conv.RunTool(context.Background(), tool, toolArgs); err != nil {
			s.Transcript.AddNote("Could not launch tool: " + err.Error())
		}

	case "/feedback":
		rating := chat.FeedbackNone
		switch strings.ToLower(args) {
		case "up", "+1":
			rating = chat.FeedbackUp
		case "down", "-1":
			rating = chat.FeedbackDown
		default:
			s.Transcript.AddNote("Usage: /feedback up|down")
		}
		if rating == chat.FeedbackNone {
			break
		}
		target := lastFinalAssistant(conv.Messages())
		if target == "" {
			s.Transcript.AddNote("No reply to rate yet.")
			break
		}
		next, err := conv.SubmitFeedback(context.Background(), target, rating)
		switch {
		case err != nil:
			s.Transcript.AddNote("Feedback not recorded: " + err.Error())
		case next == chat.FeedbackNone:
			s.Transcript.AddNote("Feedback cleared.")
		case next == chat.FeedbackUp:
			s.Transcript.AddNote("Feedback recorded: +1")
		default:
			s.Transcript.AddNote("Feedback recorded: -1")
		}

	default:
		s.Transcript.AddNote(fmt.Sprintf("Unknown command %s (try /help)", cmd))
	}

	m.refreshTab(m.tabBar.ActiveIdx)
	return nil
}

// lastFinalAssistant returns the id of the newest settled assistant message.
func lastFinalAssistant(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && msgs[i].State == chat.StateFinal && msgs[i].ID != "" {
			return msgs[i].ID
		}
	}
	return ""
}

// findArchivedChat matches a /resume argument against the sidebar's rows by
// id prefix, falling back to a case-insensitive title match.
func (m *Model) findArchivedChat(arg string) (history.Chat, bool) {
	for _, row := range m.sidebar.Chats {
		if strings.HasPrefix(row.ID, arg) {
			return row, true
		}
	}
	for _, row := range m.sidebar.Chats {
		if strings.EqualFold(row.Title, arg) {
			return row, true
		}
	}
	return history.Chat{}, false
}

// openChatTab opens the chat in a new tab, seeding its transcript when
// archived messages are supplied. Already-open chats are just activated.
func (m *Model) openChatTab(chatID, title string, seed []chat.Message) tea.Cmd {
	if idx := m.tabBar.IndexOf(chatID); idx >= 0 {
		return m.activateTab(idx)
	}
	conv, err := m.opts.Manager.Open(chatID)
	if err != nil {
		m.noteActive("Could not open chat: " + err.Error())
		return nil
	}
	if len(seed) > 0 {
		conv.Seed(seed)
	}
	idx := m.tabBar.AddTab(chatID, title)
	t := NewTranscriptModel(m.styles, m.assistantName, m.opts.Location)
	t.UserName = m.userName
	t.ToolNames = m.toolNames
	m.tabs = append(m.tabs, tabState{ChatID: chatID, Transcript: t})
	return m.activateTab(idx)
}

// activateTab makes the tab at idx current and re-syncs everything that
// tracks the active chat.
func (m *Model) activateTab(idx int) tea.Cmd {
	if idx < 0 || idx >= len(m.tabs) {
		return nil
	}
	m.tabBar.ActiveIdx = idx
	m.tabBar.Tabs[idx].HasUnread = false
	if _, err := m.opts.Manager.Open(m.tabs[idx].ChatID); err != nil {
		m.tabs[idx].Transcript.AddNote("Could not subscribe to this chat: " + err.Error())
	}
	m.refreshTab(idx)
	m.syncActiveChat()
	m.updateLayout()
	if !m.thinking && m.activeThinking() {
		m.thinking = true
		return thinkingTickCmd()
	}
	return nil
}

// refreshTab re-renders one tab's transcript from its conversation snapshot.
func (m *Model) refreshTab(idx int) {
	if idx < 0 || idx >= len(m.tabs) {
		return
	}
	s := &m.tabs[idx]
	conv := m.opts.Manager.Conversation(s.ChatID)
	s.Transcript.Refresh(conv, m.opts.Manager.Streams().ActiveStreams(s.ChatID))
}

// noteActive drops a system note on the active tab.
func (m *Model) noteActive(text string) {
	if s := m.activeTab(); s != nil {
		s.Transcript.AddNote(text)
		m.refreshTab(m.tabBar.ActiveIdx)
	}
}

// activeThinking reports whether the active chat is waiting on a reply that
// has produced no text yet, which is when the scanner animation runs.
func (m *Model) activeThinking() bool {
	s := m.activeTab()
	if s == nil {
		return false
	}
	conv := m.opts.Manager.Conversation(s.ChatID)
	if !conv.Sending() {
		return false
	}
	for _, msg := range conv.Messages() {
		if msg.State == chat.StateLoading && msg.Content == "" {
			return true
		}
	}
	return false
}

// syncActiveChat refreshes the status bar and sidebar fields that mirror the
// active chat.
func (m *Model) syncActiveChat() {
	s := m.activeTab()
	if s == nil {
		return
	}
	conv := m.opts.Manager.Conversation(s.ChatID)

	title := conv.Title()
	if title != "" {
		if tab := m.tabBar.ActiveTab(); tab != nil && tab.Title != title {
			tab.Title = title
		}
	} else if tab := m.tabBar.ActiveTab(); tab != nil {
		title = tab.Title
	}
	m.statusBar.ChatTitle = title

	active := m.opts.Manager.Streams().ActiveStreams(s.ChatID)
	m.sidebar.ActiveChatID = s.ChatID
	m.sidebar.Streams = active
	m.sidebar.OpenChats = len(m.tabs)

	m.statusBar.ActiveTool = ""
	for _, ts := range active {
		if !ts.State.Terminal() {
			m.statusBar.ActiveTool = toolLabel(m.toolNames, ts.ToolName)
			break
		}
	}
}

// syncSocket refreshes connection state mirrors from the socket.
func (m *Model) syncSocket() {
	connected := m.opts.Socket.IsConnected()
	gaveUp := m.opts.Socket.GaveUp()

	m.statusBar.Connected = connected
	m.statusBar.GaveUp = gaveUp
	m.statusBar.Reconnecting = !connected && !gaveUp
	m.statusBar.QueuedFrames = m.opts.Socket.QueuedFrames()

	m.sidebar.Connected = connected
	m.sidebar.GaveUp = gaveUp
	m.sidebar.QueuedFrames = m.statusBar.QueuedFrames
	m.sidebar.ClientID = m.opts.Socket.ClientID()
}

// updateLayout recalculates sub-model dimensions
func (m *Model) updateLayout() {
	tabBarHeight := 2 // tab bar + border
	statusBarHeight := 1
	inputHeight := 4 // textarea + border

	sidebarWidth := m.sidebar.TotalSidebarWidth()
	chatWidth := m.width - sidebarWidth
	chatHeight := m.height - tabBarHeight - statusBarHeight - inputHeight

	if chatWidth < 20 {
		chatWidth = 20
	}
	if chatHeight < 5 {
		chatHeight = 5
	}

	// Update sub-model dimensions
	m.tabBar.Width = m.width
	m.sidebar.Height = chatHeight
	m.statusBar.Width = m.width
	m.input.SetWidth(chatWidth - 2)

	for i := range m.tabs {
		m.tabs[i].Transcript.SetSize(chatWidth, chatHeight)
	}
	m.refreshTab(m.tabBar.ActiveIdx)
}

// View renders the entire TUI
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var sections []string

	// Tab bar
	sections = append(sections, m.tabBar.View())

	// Main content area: chat + optional sidebar
	var chatView string
	if s := m.activeTab(); s != nil {
		chatView = s.Transcript.View()
	}

	if m.sidebar.Visible {
		mainArea := lipgloss.JoinHorizontal(lipgloss.Top,
			chatView,
			m.sidebar.View(),
		)
		sections = append(sections, mainArea)
	} else {
		sections = append(sections, chatView)
	}

	// Input area
	sections = append(sections, m.styles.InputStyle.Width(m.width).Render(m.input.View()))

	// Status bar
	sections = append(sections, m.statusBar.View())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetSSHUser sets the SSH user for display in the status bar and transcripts
func (m *Model) SetSSHUser(user string) {
	m.statusBar.SSHUser = user
	m.userName = user
	for i := range m.tabs {
		m.tabs[i].Transcript.UserName = user
	}
}

// loadChatsCmd fetches the recent-chats listing for the sidebar.
func (m Model) loadChatsCmd() tea.Cmd {
	store := m.opts.Archive
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rows, err := store.Chats(ctx, 15)
		if err != nil {
			log.Printf("[TUI] list chats: %v", err)
			return ChatRowsMsg{}
		}
		return ChatRowsMsg{Rows: rows}
	}
}

// searchCmd runs a semantic plus keyword search over the archive.
func (m Model) searchCmd(chatID, query string) tea.Cmd {
	index := m.opts.Recall
	store := m.opts.Archive
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		out := SearchDoneMsg{ChatID: chatID, Query: query}
		if index != nil {
			matches, err := index.Search(ctx, query, 5)
			if err != nil {
				out.Err = err
			} else {
				out.Matches = matches
			}
		}
		if store != nil {
			texts, err := store.SearchMessages(ctx, query, 5)
			if err != nil {
				if out.Err == nil {
					out.Err = err
				}
			} else {
				out.Texts = texts
			}
		}
		return out
	}
}

// resumeCmd loads an archived chat's recent messages for reopening.
func (m Model) resumeCmd(chatID, title string) tea.Cmd {
	store := m.opts.Archive
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msgs, err := store.RecentMessages(ctx, chatID, 50)
		return ResumedMsg{ChatID: chatID, Title: title, Messages: msgs, Err: err}
	}
}

// reconnectCmd dials the socket again after automatic retries gave up.
func (m Model) reconnectCmd() tea.Cmd {
	sock := m.opts.Socket
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return ReconnectedMsg{Err: sock.Connect(ctx)}
	}
}

// renderSearchNote formats search results as a transcript note. Semantic
// matches come first; keyword matches that duplicate them are skipped.
func renderSearchNote(msg SearchDoneMsg) string {
	if msg.Err != nil {
		return fmt.Sprintf("Search for %q failed: %v", msg.Query, msg.Err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for %q:", msg.Query)

	seen := make(map[string]struct{})
	n := 0
	for _, match := range msg.Matches {
		seen[match.MessageID] = struct{}{}
		fmt.Fprintf(&sb, "\n  [%s] %s: %s", shortID(match.ChatID), match.Role, match.Snippet)
		n++
	}
	for _, res := range msg.Texts {
		if _, dup := seen[res.MessageID]; dup {
			continue
		}
		fmt.Fprintf(&sb, "\n  [%s] %s: %s", shortID(res.ChatID), res.Role, clip(res.Content, 80))
		n++
	}
	if n == 0 {
		sb.WriteString("\n  No matches.")
	}
	sb.WriteString("\n\nUse /resume <chat-id> to reopen a chat.")
	return sb.String()
}

// shortID truncates a chat id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// thinkingTickCmd returns a command that fires a ThinkingTickMsg after a short delay.
func thinkingTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return ThinkingTickMsg{}
	})
}
