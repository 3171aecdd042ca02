package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"parley/internal/streams"
	"parley/pkg/protocol"
)

var (
	// ErrEmptyMessage rejects sends with no text, no files, and no image
	// prompt.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSendInFlight rejects a second send while one is unresolved.
	ErrSendInFlight = errors.New("a send is already in flight for this chat")

	// ErrNoActiveRequest means there is nothing to stop.
	ErrNoActiveRequest = errors.New("no active request to stop")
)

// Backend is the REST surface used to initiate work. Calls return only the
// initiation outcome; results arrive over the socket, never through these
// return values.
type Backend interface {
	SendMessage(ctx context.Context, chatID, text string, files []string, imagePrompt bool) error
	RunTool(ctx context.Context, chatID, tool string, args map[string]interface{}) error
	SubmitFeedback(ctx context.Context, messageID string, rating int) error
}

// FrameSender transmits advisory frames to the gateway.
type FrameSender interface {
	Send(t protocol.MessageType, payload interface{}) error
}

// SendRequest is one user submission.
type SendRequest struct {
	Text        string
	Files       []string
	ImagePrompt bool
}

// hooks are the conversation's outbound notifications. All fields are
// optional and must be invoked without holding the conversation lock.
type hooks struct {
	changed func()
	record  func(Message)
	discard func(messageID string)
	meta    func(title string)
}

func (h hooks) change() {
	if h.changed != nil {
		h.changed()
	}
}

func (h hooks) recordMsg(m Message) {
	if h.record != nil {
		h.record(m)
	}
}

func (h hooks) discardMsg(id string) {
	if h.discard != nil {
		h.discard(id)
	}
}

func (h hooks) metaChanged(title string) {
	if h.meta != nil {
		h.meta(title)
	}
}

// Conversation is the source of truth for one chat's transcript. It applies
// optimistic local mutations immediately and reconciles them against
// authoritative server frames as they arrive. All methods are safe for
// concurrent use.
type Conversation struct {
	chatID string

	mu          sync.Mutex
	title       string
	updatedAt   time.Time
	msgs        []*Message
	buffers     map[string]*strings.Builder
	processed   map[string]struct{}
	sending     bool
	stopping    bool
	requestID   string
	notice      string
	noticeTimer *time.Timer

	backend   Backend
	wire      FrameSender
	noticeTTL time.Duration
	hooks     hooks
}

func newConversation(chatID string, backend Backend, wire FrameSender, noticeTTL time.Duration, h hooks) *Conversation {
	if noticeTTL <= 0 {
		noticeTTL = 5 * time.Second
	}
	return &Conversation{
		chatID:    chatID,
		buffers:   make(map[string]*strings.Builder),
		processed: make(map[string]struct{}),
		backend:   backend,
		wire:      wire,
		noticeTTL: noticeTTL,
		hooks:     h,
	}
}

// ChatID returns the chat this conversation tracks.
func (c *Conversation) ChatID() string {
	return c.chatID
}

// Title returns the current chat title.
func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

// UpdatedAt returns the last server-reported activity time.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

// Sending reports whether a send is unresolved.
func (c *Conversation) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Stopping reports whether a cancel was requested and no terminal frame has
// arrived yet.
func (c *Conversation) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Notice returns the current inline banner text, if any.
func (c *Conversation) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// DismissNotice clears the inline banner before its timer fires.
func (c *Conversation) DismissNotice() {
	c.mu.Lock()
	c.clearNoticeLocked()
	c.mu.Unlock()
	c.hooks.change()
}

// Messages returns a snapshot of the transcript. Entries still streaming
// show their buffered token text as content.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, 0, len(c.msgs))
	for _, m := range c.msgs {
		cp := *m
		if cp.State == StateLoading {
			if b := c.buffers[cp.ID]; b != nil {
				cp.Content = b.String()
			}
		}
		cp.Files = append([]string(nil), m.Files...)
		cp.KeySummaries = append([]streams.KeySummary(nil), m.KeySummaries...)
		out = append(out, cp)
	}
	return out
}

// Seed preloads the transcript with archived messages, typically when a chat
// is reopened from history. It only applies to an empty, idle conversation;
// a transcript that already has entries or an unresolved send keeps its
// state. Seeded ids count as processed so replayed server frames for them
// are dropped.
func (c *Conversation) Seed(msgs []Message) bool {
	c.mu.Lock()
	if len(c.msgs) > 0 || c.sending || c.stopping {
		c.mu.Unlock()
		return false
	}
	for i := range msgs {
		cp := msgs[i]
		cp.State = StateFinal
		cp.Files = append([]string(nil), msgs[i].Files...)
		cp.KeySummaries = append([]streams.KeySummary(nil), msgs[i].KeySummaries...)
		c.msgs = append(c.msgs, &cp)
		if cp.ID != "" {
			c.processed[cp.ID] = struct{}{}
		}
		if cp.CreatedAt.After(c.updatedAt) {
			c.updatedAt = cp.CreatedAt
		}
	}
	c.mu.Unlock()

	c.hooks.change()
	return true
}

// SendMessage validates the request, inserts the optimistic user message and
// loading assistant placeholder, and fires the backend call in the
// background. The call returns immediately; a failed initiation rolls both
// entries back and raises an auto-dismissing inline banner.
func (c *Conversation) SendMessage(ctx context.Context, req SendRequest) error {
	if strings.TrimSpace(req.Text) == "" && len(req.Files) == 0 && !req.ImagePrompt {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	c.clearNoticeLocked()

	now := time.Now()
	user := &Message{
		ID:        tempID(RoleUser),
		Role:      RoleUser,
		Content:   req.Text,
		Files:     append([]string(nil), req.Files...),
		State:     StateFinal,
		CreatedAt: now,
	}
	placeholder := &Message{
		ID:        tempID(RoleAssistant),
		Role:      RoleAssistant,
		State:     StateLoading,
		CreatedAt: now,
	}
	c.msgs = append(c.msgs, user, placeholder)
	userCopy := *user
	c.mu.Unlock()

	c.hooks.recordMsg(userCopy)
	c.hooks.change()

	go c.dispatchSend(ctx, req, user.ID, placeholder.ID)
	return nil
}

func (c *Conversation) dispatchSend(ctx context.Context, req SendRequest, userID, placeholderID string) {
	err := c.backend.SendMessage(ctx, c.chatID, req.Text, req.Files, req.ImagePrompt)
	if err == nil {
		return
	}
	log.Printf("[Chat] send failed for %s: %v", c.chatID, err)

	c.mu.Lock()
	c.removeLocked(userID)
	c.removeLocked(placeholderID)
	delete(c.buffers, placeholderID)
	c.sending = false
	c.setNoticeLocked("Failed to send message. Please try again.")
	c.mu.Unlock()

	c.hooks.discardMsg(userID)
	c.hooks.change()
}

// RunTool inserts the user-visible trigger entry and starts the tool in the
// background. The assistant response arrives through the tool stream path,
// not here.
func (c *Conversation) RunTool(ctx context.Context, tool string, args map[string]interface{}) error {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return fmt.Errorf("empty tool name")
	}

	content := tool
	if q, ok := args["query"].(string); ok && strings.TrimSpace(q) != "" {
		content = q
	}

	c.mu.Lock()
	c.clearNoticeLocked()
	trigger := &Message{
		ID:        tempID(RoleUser),
		Role:      RoleUser,
		Content:   content,
		State:     StateFinal,
		CreatedAt: time.Now(),
	}
	c.msgs = append(c.msgs, trigger)
	triggerCopy := *trigger
	c.mu.Unlock()

	c.hooks.recordMsg(triggerCopy)
	c.hooks.change()

	go func() {
		err := c.backend.RunTool(ctx, c.chatID, tool, args)
		if err == nil {
			return
		}
		log.Printf("[Chat] tool %s failed to start for %s: %v", tool, c.chatID, err)
		c.mu.Lock()
		c.removeLocked(trigger.ID)
		c.setNoticeLocked(fmt.Sprintf("Could not start %s. Please try again.", tool))
		c.mu.Unlock()
		c.hooks.discardMsg(trigger.ID)
		c.hooks.change()
	}()
	return nil
}

// SubmitFeedback toggles the tri-state rating on a message: submitting the
// rating it already has clears it. The local state is authoritative; a
// failed backend call is only logged.
func (c *Conversation) SubmitFeedback(ctx context.Context, messageID string, rating Feedback) (Feedback, error) {
	if rating != FeedbackUp && rating != FeedbackDown {
		return FeedbackNone, fmt.Errorf("invalid rating %d", rating)
	}

	c.mu.Lock()
	m := c.findLocked(messageID)
	if m == nil {
		c.mu.Unlock()
		return FeedbackNone, fmt.Errorf("unknown message %s", messageID)
	}
	next := rating
	if m.Feedback == rating {
		next = FeedbackNone
	}
	m.Feedback = next
	c.mu.Unlock()
	c.hooks.change()

	go func() {
		if err := c.backend.SubmitFeedback(ctx, messageID, int(next)); err != nil {
			log.Printf("[Chat] feedback for %s not persisted: %v", messageID, err)
		}
	}()
	return next, nil
}

// Stop requests cancellation of the in-flight generation. Advisory only:
// the transcript keeps accepting frames until the server sends a terminal
// event for the request.
func (c *Conversation) Stop() error {
	c.mu.Lock()
	requestID := c.requestID
	if requestID == "" {
		c.mu.Unlock()
		return ErrNoActiveRequest
	}
	c.stopping = true
	c.mu.Unlock()
	c.hooks.change()

	return c.wire.Send(protocol.TypeStopGeneration, protocol.StopPayload{RequestID: requestID})
}

// StopDeepSearch requests cancellation of a tool execution by its id.
func (c *Conversation) StopDeepSearch(toolExecutionID string) error {
	toolExecutionID = strings.TrimSpace(toolExecutionID)
	if toolExecutionID == "" {
		return ErrNoActiveRequest
	}
	return c.wire.Send(protocol.TypeStopDeepSearch, protocol.StopPayload{RequestID: toolExecutionID})
}

// handleToken appends one streamed fragment to the buffer of the most
// recent loading assistant entry. Routing is positional since the final id
// is unknown while streaming. Tokens with no target are dropped.
func (c *Conversation) handleToken(p *protocol.TokenPayload) {
	c.mu.Lock()
	if p.RequestID != "" {
		c.requestID = p.RequestID
	}
	idx := c.lastLoadingAssistantLocked()
	if idx < 0 {
		c.mu.Unlock()
		log.Printf("[Chat] token for %s dropped, no loading assistant entry", c.chatID)
		return
	}
	id := c.msgs[idx].ID
	b := c.buffers[id]
	if b == nil {
		b = &strings.Builder{}
		c.buffers[id] = b
	}
	b.WriteString(p.Token)
	c.mu.Unlock()

	c.hooks.change()
}

// handleComplete finalizes the loading assistant entry exactly once per
// final message id. Duplicate deliveries only clear the sending flag.
func (c *Conversation) handleComplete(p *protocol.CompletePayload) {
	key := p.FinalMessageID
	if key == "" {
		key = p.RequestID
	}

	c.mu.Lock()
	if key != "" {
		if _, done := c.processed[key]; done {
			resolved := c.sending || c.stopping
			c.sending = false
			c.stopping = false
			c.mu.Unlock()
			if resolved {
				c.hooks.change()
			}
			return
		}
		c.processed[key] = struct{}{}
	}

	titleChanged := false
	if p.Title != "" && p.Title != c.title {
		c.title = p.Title
		titleChanged = true
	}
	if !p.UpdatedAt.IsZero() {
		c.updatedAt = p.UpdatedAt
	}

	idx := c.lastLoadingAssistantLocked()
	var final *Message
	if idx < 0 {
		// No placeholder: late join or tool-triggered reply. Keep the
		// content anyway as a fresh entry.
		id := p.FinalMessageID
		if id == "" {
			id = tempID(RoleAssistant)
		}
		final = &Message{
			ID:        id,
			Role:      RoleAssistant,
			Content:   p.Message,
			State:     StateFinal,
			CreatedAt: time.Now(),
		}
		c.msgs = append(c.msgs, final)
	} else {
		final = c.msgs[idx]
		buffered := ""
		if b := c.buffers[final.ID]; b != nil {
			buffered = b.String()
		}
		delete(c.buffers, final.ID)
		if p.FinalMessageID != "" {
			final.ID = p.FinalMessageID
		}
		final.Content = p.Message
		if final.Content == "" {
			final.Content = buffered
		}
		final.State = StateFinal
	}
	c.sending = false
	c.stopping = false
	title := c.title
	finalCopy := *final
	c.mu.Unlock()

	c.hooks.recordMsg(finalCopy)
	if titleChanged {
		c.hooks.metaChanged(title)
	}
	c.hooks.change()
}

// handleNewMessage merges a server-pushed message. Reconciliation is best
// effort: first an unconfirmed temp entry with the same role and content,
// then the loading assistant placeholder, then a plain append.
func (c *Conversation) handleNewMessage(p *protocol.NewMessagePayload) {
	role := Role(p.Message.Role)
	content := p.Message.Content
	if role == RoleAssistant {
		content = filterContent(content)
	}

	c.mu.Lock()
	if p.Message.ID != "" && c.findLocked(p.Message.ID) != nil {
		c.mu.Unlock()
		return
	}

	var merged *Message
	var discarded string
	loadingIdx := c.lastLoadingAssistantLocked()
	if idx := c.matchTempLocked(role, content); idx >= 0 {
		merged = c.msgs[idx]
		discarded = merged.ID
		merged.ID = p.Message.ID
		if !p.Message.CreatedAt.IsZero() {
			merged.CreatedAt = p.Message.CreatedAt
		}
	} else if role == RoleAssistant && loadingIdx >= 0 {
		merged = c.msgs[loadingIdx]
		delete(c.buffers, merged.ID)
		merged.ID = p.Message.ID
		merged.Content = content
		merged.State = StateFinal
		if !p.Message.CreatedAt.IsZero() {
			merged.CreatedAt = p.Message.CreatedAt
		}
	} else {
		merged = &Message{
			ID:        p.Message.ID,
			Role:      role,
			Content:   content,
			State:     StateFinal,
			CreatedAt: p.Message.CreatedAt,
		}
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = time.Now()
		}
		c.msgs = append(c.msgs, merged)
	}
	mergedCopy := *merged
	c.mu.Unlock()

	if discarded != "" && discarded != mergedCopy.ID {
		c.hooks.discardMsg(discarded)
	}
	c.hooks.recordMsg(mergedCopy)
	c.hooks.change()
}

// handleStreamStarted records the request id for cancellation and makes
// sure a loading placeholder exists to receive the coming tokens.
func (c *Conversation) handleStreamStarted(p *protocol.StreamStartedPayload) {
	c.mu.Lock()
	if p.RequestID != "" {
		c.requestID = p.RequestID
	}
	if c.lastLoadingAssistantLocked() < 0 {
		c.msgs = append(c.msgs, &Message{
			ID:        tempID(RoleAssistant),
			Role:      RoleAssistant,
			State:     StateLoading,
			CreatedAt: time.Now(),
		})
	}
	c.mu.Unlock()
	c.hooks.change()
}

// handleChatError turns the loading placeholder into an in-place error
// bubble, or raises a banner when nothing is loading.
func (c *Conversation) handleChatError(p *protocol.ChatErrorPayload) {
	text := p.Message
	if text == "" {
		text = "Something went wrong. Please try again."
	}

	c.mu.Lock()
	if idx := c.lastLoadingAssistantLocked(); idx >= 0 {
		m := c.msgs[idx]
		delete(c.buffers, m.ID)
		m.Content = fmt.Sprintf("Error: %s", text)
		m.State = StateError
	} else {
		c.setNoticeLocked(text)
	}
	c.sending = false
	c.stopping = false
	c.mu.Unlock()

	c.hooks.change()
}

// setTitle applies a server-side rename.
func (c *Conversation) setTitle(title string) {
	c.mu.Lock()
	if title == "" || title == c.title {
		c.mu.Unlock()
		return
	}
	c.title = title
	c.mu.Unlock()

	c.hooks.metaChanged(title)
	c.hooks.change()
}

// attachKeySummaries decorates a confirmed message with the structured notes
// collected by its tool stream. Unmatched ids are dropped; the message may
// simply not have arrived yet.
func (c *Conversation) attachKeySummaries(messageID string, summaries []streams.KeySummary) {
	if messageID == "" || len(summaries) == 0 {
		return
	}
	c.mu.Lock()
	m := c.findLocked(messageID)
	if m == nil {
		c.mu.Unlock()
		log.Printf("[Chat] key summaries for unknown message %s dropped", messageID)
		return
	}
	m.KeySummaries = append([]streams.KeySummary(nil), summaries...)
	c.mu.Unlock()
	c.hooks.change()
}

// close releases the banner timer.
func (c *Conversation) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

func (c *Conversation) setNoticeLocked(text string) {
	c.notice = text
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
	}
	c.noticeTimer = time.AfterFunc(c.noticeTTL, func() {
		c.mu.Lock()
		cleared := c.notice == text
		if cleared {
			c.notice = ""
		}
		c.mu.Unlock()
		if cleared {
			c.hooks.change()
		}
	})
}

func (c *Conversation) clearNoticeLocked() {
	c.notice = ""
	if c.noticeTimer != nil {
		c.noticeTimer.Stop()
		c.noticeTimer = nil
	}
}

func (c *Conversation) findLocked(id string) *Message {
	for _, m := range c.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (c *Conversation) removeLocked(id string) {
	for i, m := range c.msgs {
		if m.ID == id {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			return
		}
	}
}

// lastLoadingAssistantLocked finds the streaming target by position from
// the end of the transcript.
func (c *Conversation) lastLoadingAssistantLocked() int {
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Role == RoleAssistant && c.msgs[i].State == StateLoading {
			return i
		}
	}
	return -1
}

// matchTempLocked finds the most recent unconfirmed temp entry with the
// same role and content.
func (c *Conversation) matchTempLocked(role Role, content string) int {
	want := strings.TrimSpace(content)
	for i := len(c.msgs) - 1; i >= 0; i-- {
		m := c.msgs[i]
		if m.IsTemp() && m.Role == role && strings.TrimSpace(m.Content) == want {
			return i
		}
	}
	return -1
}
