package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"parley/internal/events"
	"parley/internal/streams"
	"parley/internal/transport"
	"parley/pkg/protocol"
)

// Wire is the slice of the socket the manager binds to.
type Wire interface {
	FrameSender
	On(key transport.Key, fn transport.Handler) func()
	SubscribeChat(chatID string) error
	UnsubscribeChat(chatID string) error
}

// Recorder persists confirmed transcript entries and chat metadata. Failures
// are logged, never surfaced: the live transcript is the source of truth and
// the archive trails it best effort.
type Recorder interface {
	RecordMessage(ctx context.Context, chatID string, msg Message) error
	DiscardMessage(ctx context.Context, chatID, messageID string) error
	TouchChat(ctx context.Context, chatID, title string, at time.Time) error
}

// Config configures a Manager.
type Config struct {
	// Wire delivers inbound frames and carries outbound ones.
	Wire Wire

	// Backend is the REST surface for send, tool, and feedback calls.
	Backend Backend

	// Aggregator coalesces tool stream events. A private one is created
	// when nil.
	Aggregator *streams.Aggregator

	// Bus receives chat_updated and chat_list_changed notifications.
	// Optional.
	Bus *events.Bus

	// History archives confirmed messages. Optional.
	History Recorder

	// NoticeTTL bounds how long inline banners stay up. Default 5s.
	NoticeTTL time.Duration
}

// Manager owns every Conversation in the process, routes inbound frames to
// them, and feeds tool stream events into the aggregator. One manager per
// socket.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	convs      map[string]*Conversation
	aggCancels map[string]func()
	active     string
	teardown   []func()
	started    bool
}

// Frame types the manager consumes from the wire.
var boundTypes = []protocol.MessageType{
	protocol.TypeToken,
	protocol.TypeChatToken,
	protocol.TypeComplete,
	protocol.TypeChatComplete,
	protocol.TypeStreamStarted,
	protocol.TypeNewMessage,
	protocol.TypeChatError,
	protocol.TypeChatTitleUpdated,
	protocol.TypeToolStreamStarted,
	protocol.TypeToolStreamChunk,
	protocol.TypeToolStreamComplete,
	protocol.TypeToolStreamError,
}

// NewManager creates a Manager. Call Start to begin consuming frames.
func NewManager(cfg Config) *Manager {
	if cfg.Aggregator == nil {
		cfg.Aggregator = streams.New(streams.Config{})
	}
	return &Manager{
		cfg:        cfg,
		convs:      make(map[string]*Conversation),
		aggCancels: make(map[string]func()),
	}
}

// Streams exposes the aggregator for views that render tool activity.
func (m *Manager) Streams() *streams.Aggregator {
	return m.cfg.Aggregator
}

// Start binds the manager to the wire. Frames for all known message types
// flow through the manager from here on.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("chat manager already started")
	}
	m.started = true
	for _, t := range boundTypes {
		m.teardown = append(m.teardown, m.cfg.Wire.On(transport.BroadcastKey(t), m.handleFrame))
	}
	return nil
}

// Stop unbinds from the wire and releases per-conversation resources. The
// conversations themselves stay readable.
func (m *Manager) Stop() {
	m.mu.Lock()
	teardown := m.teardown
	m.teardown = nil
	cancels := make([]func(), 0, len(m.aggCancels))
	for id, cancel := range m.aggCancels {
		cancels = append(cancels, cancel)
		delete(m.aggCancels, id)
	}
	convs := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		convs = append(convs, c)
	}
	m.started = false
	m.mu.Unlock()

	for _, td := range teardown {
		td()
	}
	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range convs {
		c.close()
	}
}

// Conversation returns the conversation for a chat, creating it on first
// reference.
func (m *Manager) Conversation(chatID string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationLocked(chatID)
}

// Open makes a chat the active one: its conversation exists, the server is
// subscribed (queued for flush when offline), and tool stream updates for
// it start flowing to the bus.
func (m *Manager) Open(chatID string) (*Conversation, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, fmt.Errorf("empty chat id")
	}

	m.mu.Lock()
	conv := m.conversationLocked(chatID)
	m.active = chatID
	_, watching := m.aggCancels[chatID]
	m.mu.Unlock()

	if !watching {
		cancel := m.cfg.Aggregator.Subscribe(chatID, func(u streams.Update) {
			m.handleStreamUpdate(chatID, u)
		})
		m.mu.Lock()
		m.aggCancels[chatID] = cancel
		m.mu.Unlock()
	}

	if err := m.cfg.Wire.SubscribeChat(chatID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return conv, err
	}
	return conv, nil
}

// Leave unsubscribes a chat. The conversation and its transcript are kept;
// callers decide when leaving is safe since late events stop arriving.
func (m *Manager) Leave(chatID string) error {
	m.mu.Lock()
	cancel := m.aggCancels[chatID]
	delete(m.aggCancels, chatID)
	if m.active == chatID {
		m.active = ""
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := m.cfg.Wire.UnsubscribeChat(chatID); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return err
	}
	return nil
}

// Active returns the conversation most recently opened, or nil.
func (m *Manager) Active() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil
	}
	return m.convs[m.active]
}

// Chats lists every chat id the manager has seen, sorted.
func (m *Manager) Chats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.convs))
	for id := range m.convs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) conversationLocked(chatID string) *Conversation {
	if c, ok := m.convs[chatID]; ok {
		return c
	}
	c := newConversation(chatID, m.cfg.Backend, m.cfg.Wire, m.cfg.NoticeTTL, m.hooksFor(chatID))
	m.convs[chatID] = c
	return c
}

// hooksFor wires one conversation's notifications to the bus and archive.
func (m *Manager) hooksFor(chatID string) hooks {
	return hooks{
		changed: func() {
			m.publish(events.ChatUpdated, chatID)
		},
		record: func(msg Message) {
			if m.cfg.History == nil {
				return
			}
			if err := m.cfg.History.RecordMessage(context.Background(), chatID, msg); err != nil {
				log.Printf("[Chat] failed to archive message %s: %v", msg.ID, err)
			}
		},
		discard: func(messageID string) {
			if m.cfg.History == nil {
				return
			}
			if err := m.cfg.History.DiscardMessage(context.Background(), chatID, messageID); err != nil {
				log.Printf("[Chat] failed to drop archived message %s: %v", messageID, err)
			}
		},
		meta: func(title string) {
			if m.cfg.History != nil {
				if err := m.cfg.History.TouchChat(context.Background(), chatID, title, time.Now()); err != nil {
					log.Printf("[Chat] failed to update archived chat %s: %v", chatID, err)
				}
			}
			m.publish(events.ChatListChanged, chatID, title)
		},
	}
}

// handleFrame decodes one inbound frame and routes it to the owning
// conversation or the aggregator.
func (m *Manager) handleFrame(env *protocol.Envelope) {
	decoded, err := env.Decode()
	if err != nil {
		log.Printf("[Chat] failed to decode %s frame: %v", env.Type, err)
		return
	}

	switch p := decoded.(type) {
	case *protocol.TokenPayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.handleToken(p)
		}
	case *protocol.CompletePayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.handleComplete(p)
		}
	case *protocol.StreamStartedPayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.handleStreamStarted(p)
		}
	case *protocol.NewMessagePayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.handleNewMessage(p)
		}
	case *protocol.ChatErrorPayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.handleChatError(p)
		}
	case *protocol.TitleUpdatedPayload:
		if conv := m.target(p.ChatID); conv != nil {
			conv.setTitle(p.Title)
		}
	case *protocol.ToolStreamStartedPayload:
		m.cfg.Aggregator.HandleStarted(p)
	case *protocol.ToolStreamChunkPayload:
		m.cfg.Aggregator.HandleChunk(p)
	case *protocol.ToolStreamCompletePayload:
		m.cfg.Aggregator.HandleComplete(p)
	case *protocol.ToolStreamErrorPayload:
		m.cfg.Aggregator.HandleError(p)
	default:
		log.Printf("[Chat] unhandled %s frame", env.Type)
	}
}

// target resolves the conversation for a frame. Frames without a chat id
// belong to the active chat, matching servers that scope them implicitly.
func (m *Manager) target(chatID string) *Conversation {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		m.mu.Lock()
		chatID = m.active
		m.mu.Unlock()
	}
	if chatID == "" {
		log.Printf("[Chat] frame without chat id dropped, no active chat")
		return nil
	}
	return m.Conversation(chatID)
}

// handleStreamUpdate reacts to aggregator notifications for an open chat:
// completed streams donate their key summaries to the confirmed message,
// and every update nudges views to re-render.
func (m *Manager) handleStreamUpdate(chatID string, u streams.Update) {
	if u.Type == streams.UpdateCompleted {
		for _, ts := range u.Streams {
			if ts.ToolExecutionID != u.StreamID {
				continue
			}
			if ts.FinalMessageID != "" && len(ts.KeySummaries) > 0 {
				m.Conversation(chatID).attachKeySummaries(ts.FinalMessageID, ts.KeySummaries)
			}
		}
	}
	m.publish(events.ChatUpdated, chatID)
}

func (m *Manager) publish(name string, args ...interface{}) {
	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(name, args...)
	}
}
