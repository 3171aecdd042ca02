package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/transport"
	"parley/pkg/protocol"
)

type fakeBackend struct {
	mu          sync.Mutex
	sendErr     error
	toolErr     error
	feedbackErr error

	sends   []string
	tools   []string
	ratings []int
}

func (f *fakeBackend) SendMessage(ctx context.Context, chatID, text string, files []string, imagePrompt bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
	return f.sendErr
}

func (f *fakeBackend) RunTool(ctx context.Context, chatID, tool string, args map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = append(f.tools, tool)
	return f.toolErr
}

func (f *fakeBackend) SubmitFeedback(ctx context.Context, messageID string, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings = append(f.ratings, rating)
	return f.feedbackErr
}

func (f *fakeBackend) ratingCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ratings...)
}

type sentFrame struct {
	Type    protocol.MessageType
	Payload interface{}
}

type fakeWire struct {
	mu           sync.Mutex
	sendErr      error
	frames       []sentFrame
	handlers     map[transport.Key][]*fakeHandler
	subscribed   []string
	unsubscribed []string
}

type fakeHandler struct {
	fn transport.Handler
}

func newFakeWire() *fakeWire {
	return &fakeWire{handlers: make(map[transport.Key][]*fakeHandler)}
}

func (w *fakeWire) Send(t protocol.MessageType, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return w.sendErr
	}
	w.frames = append(w.frames, sentFrame{Type: t, Payload: payload})
	return nil
}

func (w *fakeWire) On(key transport.Key, fn transport.Handler) func() {
	h := &fakeHandler{fn: fn}
	w.mu.Lock()
	w.handlers[key] = append(w.handlers[key], h)
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		hs := w.handlers[key]
		for i, cur := range hs {
			if cur == h {
				w.handlers[key] = append(hs[:i], hs[i+1:]...)
				return
			}
		}
	}
}

func (w *fakeWire) SubscribeChat(chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subscribed = append(w.subscribed, chatID)
	return nil
}

func (w *fakeWire) UnsubscribeChat(chatID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unsubscribed = append(w.unsubscribed, chatID)
	return nil
}

// deliver synthesizes an inbound frame and invokes the broadcast handlers
// registered for its type, the way the socket's dispatcher would.
func (w *fakeWire) deliver(t *testing.T, typ protocol.MessageType, payload interface{}) {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload)
	require.NoError(t, err)

	w.mu.Lock()
	hs := append([]*fakeHandler(nil), w.handlers[transport.BroadcastKey(typ)]...)
	w.mu.Unlock()
	for _, h := range hs {
		h.fn(env)
	}
}

func (w *fakeWire) sentFrames() []sentFrame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sentFrame(nil), w.frames...)
}

type hookRecorder struct {
	mu        sync.Mutex
	recorded  []Message
	discarded []string
	titles    []string
}

func (h *hookRecorder) hooks() hooks {
	return hooks{
		record: func(m Message) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.recorded = append(h.recorded, m)
		},
		discard: func(id string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.discarded = append(h.discarded, id)
		},
		meta: func(title string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.titles = append(h.titles, title)
		},
	}
}

func (h *hookRecorder) records() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.recorded...)
}

func (h *hookRecorder) discards() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.discarded...)
}

func testConversation(backend *fakeBackend, wire *fakeWire, rec *hookRecorder) *Conversation {
	h := hooks{}
	if rec != nil {
		h = rec.hooks()
	}
	return newConversation("chat-1", backend, wire, 5*time.Second, h)
}

func TestSendMessageInsertsOptimisticPair(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[0].IsTemp())
	assert.Equal(t, StateFinal, msgs[0].State)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "", msgs[1].Content)
	assert.True(t, msgs[1].IsTemp())
	assert.Equal(t, StateLoading, msgs[1].State)
	assert.True(t, c.Sending())
}

func TestSendMessageValidation(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	assert.ErrorIs(t, c.SendMessage(context.Background(), SendRequest{Text: ""}), ErrEmptyMessage)
	assert.ErrorIs(t, c.SendMessage(context.Background(), SendRequest{Text: "   \t\n"}), ErrEmptyMessage)
	assert.Empty(t, c.Messages())

	// Attachments or an image prompt carry an otherwise empty send.
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Files: []string{"report.pdf"}}))
}

func TestSendMessageBlockedWhileInFlight(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "first"}))
	assert.ErrorIs(t, c.SendMessage(context.Background(), SendRequest{Text: "second"}), ErrSendInFlight)
	assert.Len(t, c.Messages(), 2)
}

func TestSendFailureRollsBackBothEntries(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("connection refused")}
	rec := &hookRecorder{}
	c := testConversation(backend, newFakeWire(), rec)

	// An earlier confirmed entry must survive the rollback untouched.
	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "m1", Role: "user", Content: "earlier"},
	})

	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "doomed"}))

	require.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].ID == "m1" && !c.Sending()
	}, 2*time.Second, 5*time.Millisecond)

	assert.NotEmpty(t, c.Notice())

	// The recorded temp user message was discarded again.
	require.Eventually(t, func() bool {
		return len(rec.discards()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNoticeAutoDismisses(t *testing.T) {
	c := newConversation("chat-1", &fakeBackend{}, newFakeWire(), 40*time.Millisecond, hooks{})

	c.handleChatError(&protocol.ChatErrorPayload{ChatID: "chat-1", Message: "transient"})
	require.Equal(t, "transient", c.Notice())

	require.Eventually(t, func() bool {
		return c.Notice() == ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTokensAccumulateIntoLoadingPlaceholder(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "question"}))

	for _, tok := range []string{"Hel", "lo, ", "world"} {
		c.handleToken(&protocol.TokenPayload{ChatID: "chat-1", Token: tok})
	}

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello, world", msgs[1].Content)
	assert.Equal(t, StateLoading, msgs[1].State)
}

func TestTokenWithoutTargetIsDropped(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	assert.NotPanics(t, func() {
		c.handleToken(&protocol.TokenPayload{ChatID: "chat-1", Token: "stray"})
	})
	assert.Empty(t, c.Messages())
}

func TestCompletionIsIdempotent(t *testing.T) {
	rec := &hookRecorder{}
	c := testConversation(&fakeBackend{}, newFakeWire(), rec)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	for _, tok := range []string{"H", "i", ", there!"} {
		c.handleToken(&protocol.TokenPayload{Token: tok})
	}

	complete := &protocol.CompletePayload{
		ChatID:         "chat-1",
		FinalMessageID: "42",
		Message:        "Hi, there!",
	}
	c.handleComplete(complete)

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "42", msgs[1].ID)
	assert.Equal(t, "Hi, there!", msgs[1].Content)
	assert.Equal(t, StateFinal, msgs[1].State)
	assert.False(t, c.Sending())

	recordsAfterFirst := len(rec.records())

	// Redelivery is absorbed: no new mutation, no new archive write.
	c.handleComplete(complete)

	again := c.Messages()
	require.Len(t, again, 2)
	assert.Equal(t, "Hi, there!", again[1].Content)
	assert.False(t, c.Sending())
	assert.Len(t, rec.records(), recordsAfterFirst)
}

func TestCompletionFallsBackToBufferedText(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	c.handleToken(&protocol.TokenPayload{Token: "streamed answer"})
	c.handleComplete(&protocol.CompletePayload{ChatID: "chat-1", FinalMessageID: "7"})

	msgs := c.Messages()
	assert.Equal(t, "streamed answer", msgs[1].Content)
	assert.Equal(t, StateFinal, msgs[1].State)
}

func TestCompletionMergesChatMetadata(t *testing.T) {
	rec := &hookRecorder{}
	c := testConversation(&fakeBackend{}, newFakeWire(), rec)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	now := time.Now().Round(time.Second)
	c.handleComplete(&protocol.CompletePayload{
		ChatID:         "chat-1",
		FinalMessageID: "9",
		Message:        "Hello!",
		Title:          "Greetings",
		UpdatedAt:      now,
	})

	assert.Equal(t, "Greetings", c.Title())
	assert.Equal(t, now, c.UpdatedAt())
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.titles) == 1 && rec.titles[0] == "Greetings"
	}, time.Second, 5*time.Millisecond)
}

func TestNewMessageAdoptsTempUserEntry(t *testing.T) {
	rec := &hookRecorder{}
	c := testConversation(&fakeBackend{}, newFakeWire(), rec)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	tempID := c.Messages()[0].ID
	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "101", Role: "user", Content: "hi"},
	})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "101", msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Contains(t, rec.discards(), tempID)
}

func TestNewMessageFinalizesLoadingPlaceholder(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "102", Role: "assistant", Content: "Hello!"},
	})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "102", msgs[1].ID)
	assert.Equal(t, "Hello!", msgs[1].Content)
	assert.Equal(t, StateFinal, msgs[1].State)
}

func TestNewMessageAppendsWhenNothingMatches(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "103", Role: "assistant", Content: "Tool result"},
	})
	require.Len(t, c.Messages(), 1)

	// Duplicate delivery of the same id is absorbed.
	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "103", Role: "assistant", Content: "Tool result"},
	})
	assert.Len(t, c.Messages(), 1)
}

func TestNewMessageProjectsAssistantHTML(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "104", Role: "assistant", Content: "<p>Hello <b>world</b></p>"},
	})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello world", msgs[0].Content)
}

func TestFeedbackTriStateToggle(t *testing.T) {
	backend := &fakeBackend{}
	c := testConversation(backend, newFakeWire(), nil)
	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "55", Role: "assistant", Content: "answer"},
	})

	got, err := c.SubmitFeedback(context.Background(), "55", FeedbackUp)
	require.NoError(t, err)
	assert.Equal(t, FeedbackUp, got)

	// Submitting the held rating clears it.
	got, err = c.SubmitFeedback(context.Background(), "55", FeedbackUp)
	require.NoError(t, err)
	assert.Equal(t, FeedbackNone, got)
	assert.Equal(t, FeedbackNone, c.Messages()[0].Feedback)

	got, err = c.SubmitFeedback(context.Background(), "55", FeedbackDown)
	require.NoError(t, err)
	assert.Equal(t, FeedbackDown, got)

	_, err = c.SubmitFeedback(context.Background(), "missing", FeedbackUp)
	assert.Error(t, err)
	_, err = c.SubmitFeedback(context.Background(), "55", FeedbackNone)
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return len(backend.ratingCalls()) == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeedbackIsLocalAuthoritative(t *testing.T) {
	backend := &fakeBackend{feedbackErr: errors.New("500")}
	c := testConversation(backend, newFakeWire(), nil)
	c.handleNewMessage(&protocol.NewMessagePayload{
		ChatID:  "chat-1",
		Message: protocol.MessageInfo{ID: "55", Role: "assistant", Content: "answer"},
	})

	got, err := c.SubmitFeedback(context.Background(), "55", FeedbackDown)
	require.NoError(t, err)
	assert.Equal(t, FeedbackDown, got)

	// No rollback on backend failure.
	require.Eventually(t, func() bool {
		return len(backend.ratingCalls()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, FeedbackDown, c.Messages()[0].Feedback)
}

func TestStopSendsAdvisoryFrame(t *testing.T) {
	wire := newFakeWire()
	c := testConversation(&fakeBackend{}, wire, nil)

	assert.ErrorIs(t, c.Stop(), ErrNoActiveRequest)

	c.handleStreamStarted(&protocol.StreamStartedPayload{ChatID: "chat-1", RequestID: "req-7"})
	require.NoError(t, c.Stop())
	assert.True(t, c.Stopping())

	frames := wire.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypeStopGeneration, frames[0].Type)
	assert.Equal(t, protocol.StopPayload{RequestID: "req-7"}, frames[0].Payload)

	// The terminal frame, not the stop, resolves the state.
	c.handleComplete(&protocol.CompletePayload{ChatID: "chat-1", FinalMessageID: "77"})
	assert.False(t, c.Stopping())
}

func TestStopDeepSearchByExecutionID(t *testing.T) {
	wire := newFakeWire()
	c := testConversation(&fakeBackend{}, wire, nil)

	assert.Error(t, c.StopDeepSearch(" "))
	require.NoError(t, c.StopDeepSearch("exec-3"))

	frames := wire.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypeStopDeepSearch, frames[0].Type)
	assert.Equal(t, protocol.StopPayload{RequestID: "exec-3"}, frames[0].Payload)
}

func TestChatErrorBecomesTranscriptBubble(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)
	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))

	c.handleChatError(&protocol.ChatErrorPayload{ChatID: "chat-1", Message: "model overloaded"})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, StateError, msgs[1].State)
	assert.Equal(t, "Error: model overloaded", msgs[1].Content)
	assert.False(t, c.Sending())
}

func TestChatErrorWithoutPlaceholderRaisesBanner(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	c.handleChatError(&protocol.ChatErrorPayload{ChatID: "chat-1", Message: "bad request"})

	assert.Empty(t, c.Messages())
	assert.Equal(t, "bad request", c.Notice())

	c.DismissNotice()
	assert.Empty(t, c.Notice())
}

func TestStreamStartedEnsuresPlaceholder(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	c.handleStreamStarted(&protocol.StreamStartedPayload{ChatID: "chat-1", RequestID: "r1"})
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, StateLoading, c.Messages()[0].State)

	// A second start for the same response does not duplicate it.
	c.handleStreamStarted(&protocol.StreamStartedPayload{ChatID: "chat-1", RequestID: "r1"})
	assert.Len(t, c.Messages(), 1)
}

func TestRunToolInsertsTriggerEntry(t *testing.T) {
	backend := &fakeBackend{}
	c := testConversation(backend, newFakeWire(), nil)

	require.NoError(t, c.RunTool(context.Background(), "live_search", map[string]interface{}{"query": "golang generics"}))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "golang generics", msgs[0].Content)

	// No assistant placeholder: the response arrives over the stream path.
	assert.False(t, c.Sending())
}

func TestRunToolFailureRollsBackTrigger(t *testing.T) {
	backend := &fakeBackend{toolErr: errors.New("tool unavailable")}
	c := testConversation(backend, newFakeWire(), nil)

	require.NoError(t, c.RunTool(context.Background(), "live_search", nil))

	require.Eventually(t, func() bool {
		return len(c.Messages()) == 0 && c.Notice() != ""
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEndToEndSendScenario(t *testing.T) {
	c := testConversation(&fakeBackend{}, newFakeWire(), nil)

	require.NoError(t, c.SendMessage(context.Background(), SendRequest{Text: "hi"}))
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, StateLoading, msgs[1].State)

	for _, tok := range []string{"H", "i", ", there!"} {
		c.handleToken(&protocol.TokenPayload{ChatID: "chat-1", Token: tok})
	}
	require.Equal(t, "Hi, there!", c.Messages()[1].Content)

	c.handleComplete(&protocol.CompletePayload{
		ChatID:         "chat-1",
		FinalMessageID: "42",
		Message:        "Hi, there!",
	})

	final := c.Messages()[1]
	assert.Equal(t, "42", final.ID)
	assert.Equal(t, "Hi, there!", final.Content)
	assert.Equal(t, StateFinal, final.State)
	assert.False(t, c.Sending())
}
