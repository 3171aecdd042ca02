package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"parley/internal/events"
	"parley/pkg/protocol"
)

// ErrNotConnected is returned by Send when the frame was queued for flush on
// reconnect instead of being transmitted.
var ErrNotConnected = errors.New("not connected")

// ErrClosed is returned once the socket has been closed for good.
var ErrClosed = errors.New("socket closed")

// errDialInFlight signals that another goroutine already owns the dial.
var errDialInFlight = errors.New("dial already in flight")

// Frame types whose queued sends flush before regular traffic. These
// re-establish server-side state and must not be applied after frames that
// depend on them.
var criticalTypes = map[protocol.MessageType]bool{
	protocol.TypeChatSubscribe:     true,
	protocol.TypeChatUnsubscribe:   true,
	protocol.TypeDownloadSubscribe: true,
}

// Config configures a Socket.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	// Token authenticates the connection via subprotocol negotiation.
	Token string

	// Bus receives cross-module events (connection state, share/activation
	// frames, chat notices). Optional.
	Bus *events.Bus

	// PingInterval is the keepalive cadence. Default 30s.
	PingInterval time.Duration

	// IdleTimeout forces a reconnect when no frame (pong included) arrives
	// for this long. Default 3x PingInterval.
	IdleTimeout time.Duration

	// MaxReconnectAttempts caps automatic retries before the socket gives
	// up and waits for an explicit Connect. Default 10.
	MaxReconnectAttempts int

	// ReconnectBaseDelay seeds the exponential backoff. Default 1s.
	ReconnectBaseDelay time.Duration

	// MaxReconnectDelay caps the backoff. Default 30s.
	MaxReconnectDelay time.Duration

	// QueueLimit bounds each priority class of the offline queue. Default 256.
	QueueLimit int
}

func (c *Config) applyDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * c.PingInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 256
	}
}

// Socket is the reconnecting duplex connection to the chat gateway. One
// logical connection per process: the underlying websocket is recreated on
// each reconnect, while the clientId, listener registry, offline queue, and
// subscription sets survive.
type Socket struct {
	cfg      Config
	clientID string

	mu           sync.RWMutex
	conn         *websocket.Conn
	connected    bool
	everOpened   bool
	closed       bool
	dialing      bool
	reconnecting bool
	gaveUp       bool
	lastActivity time.Time

	subs      map[string]struct{}
	downloads map[string]struct{}

	queue    *sendQueue
	registry *registry
	bus      *events.Bus

	done chan struct{}
}

// New creates a Socket. The connection is not opened until Connect.
func New(cfg Config) *Socket {
	cfg.applyDefaults()
	return &Socket{
		cfg:       cfg,
		clientID:  uuid.New().String(),
		subs:      make(map[string]struct{}),
		downloads: make(map[string]struct{}),
		queue:     newSendQueue(cfg.QueueLimit),
		registry:  newRegistry(),
		bus:       cfg.Bus,
		done:      make(chan struct{}),
	}
}

// ClientID returns the stable id attached to every outbound payload.
func (s *Socket) ClientID() string {
	return s.clientID
}

// IsConnected returns the connection status.
func (s *Socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// GaveUp reports whether automatic reconnection stopped at the attempt cap.
// A fresh Connect call resets it.
func (s *Socket) GaveUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gaveUp
}

// QueuedFrames returns how many outbound frames await reconnection.
func (s *Socket) QueuedFrames() int {
	return s.queue.len()
}

// Connect opens the connection if it is not already open. On success the
// offline queue is flushed (critical frames first) and every chat and
// download subscription is re-asserted. Errors are returned only while the
// socket has never been open; once a first connection succeeded, later
// failures feed the silent reconnect procedure instead.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.gaveUp = false
	// Tear down any half-open socket before dialing fresh.
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	everOpened := s.everOpened
	s.mu.Unlock()

	if err := s.dial(ctx); err != nil {
		if errors.Is(err, errDialInFlight) {
			return nil
		}
		if !everOpened {
			return err
		}
		log.Printf("[Transport] connect failed, entering reconnect: %v", err)
		s.scheduleReconnect()
		return nil
	}
	return nil
}

// dial performs one connection attempt and, on success, installs the
// connection and runs the reconnect-safe open sequence. Only one dial runs
// at a time.
func (s *Socket) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.dialing {
		s.mu.Unlock()
		return errDialInFlight
	}
	s.dialing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if s.cfg.Token != "" {
		dialer.Subprotocols = []string{"parley-auth", s.cfg.Token}
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	reopened := s.everOpened
	s.conn = conn
	s.connected = true
	s.everOpened = true
	s.lastActivity = time.Now()
	s.mu.Unlock()

	go s.readPump(conn)
	go s.keepalive(conn)

	s.flushQueue(conn)
	s.reassertSubscriptions(conn)

	if reopened {
		s.publish(events.ConnectionRestored)
	}
	log.Printf("[Transport] connected to %s", s.cfg.URL)
	return nil
}

// Send frames (type, payload) for transmission. Disconnected sends are
// queued and kick a background connect; the caller gets ErrNotConnected so
// it knows delivery is deferred. Transmit failures on a live connection
// re-queue the frame and are not surfaced.
func (s *Socket) Send(t protocol.MessageType, payload interface{}) error {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}

	s.mu.RLock()
	closed := s.closed
	conn := s.conn
	connected := s.connected
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !connected || conn == nil {
		s.queue.push(env, criticalTypes[t])
		go func() {
			if err := s.Connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
				log.Printf("[Transport] background connect failed: %v", err)
			}
		}()
		return ErrNotConnected
	}

	if err := s.writeFrame(conn, env); err != nil {
		log.Printf("[Transport] write failed, queuing %s frame: %v", t, err)
		s.queue.requeue(env, criticalTypes[t])
		s.connectionLost(conn, err)
	}
	return nil
}

// On registers a listener for a dispatch key and returns its removal
// function. Listener panics are isolated from other listeners.
func (s *Socket) On(key Key, fn Handler) func() {
	return s.registry.add(key, fn)
}

// SubscribeChat adds a chat to the subscription set and tells the server.
// Membership survives reconnects: the set is re-asserted after every open.
func (s *Socket) SubscribeChat(chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return fmt.Errorf("empty chat id")
	}

	s.mu.Lock()
	s.subs[chatID] = struct{}{}
	s.mu.Unlock()

	return s.Send(protocol.TypeChatSubscribe, protocol.SubscribePayload{ChatID: chatID})
}

// UnsubscribeChat removes a chat from the subscription set and tells the
// server. Callers decide when: removing too early loses late events.
func (s *Socket) UnsubscribeChat(chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return fmt.Errorf("empty chat id")
	}

	s.mu.Lock()
	delete(s.subs, chatID)
	s.mu.Unlock()

	return s.Send(protocol.TypeChatUnsubscribe, protocol.SubscribePayload{ChatID: chatID})
}

// SubscribedChats returns the current subscription set.
func (s *Socket) SubscribedChats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

// SubscribeDownload registers interest in a download's progress events.
func (s *Socket) SubscribeDownload(downloadID string) error {
	downloadID = strings.TrimSpace(downloadID)
	if downloadID == "" {
		return fmt.Errorf("empty download id")
	}

	s.mu.Lock()
	s.downloads[downloadID] = struct{}{}
	s.mu.Unlock()

	return s.Send(protocol.TypeDownloadSubscribe, protocol.DownloadSubscribePayload{DownloadID: downloadID})
}

// Close shuts the socket down for good. Safe to call more than once.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.closed = true

	if s.conn != nil {
		s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

// writeFrame attaches the clientId and transmits one frame. The original
// envelope is left untouched so it can be re-queued verbatim.
func (s *Socket) writeFrame(conn *websocket.Conn, env *protocol.Envelope) error {
	payload, err := protocol.AttachClientID(env.Payload, s.clientID)
	if err != nil {
		return fmt.Errorf("failed to attach clientId: %w", err)
	}
	data, err := json.Marshal(&protocol.Envelope{Type: env.Type, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn || !s.connected {
		return ErrNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// flushQueue drains the offline queue onto a fresh connection, critical
// frames first. A write failure re-queues the frame and aborts the flush.
func (s *Socket) flushQueue(conn *websocket.Conn) {
	frames := s.queue.drain()
	if len(frames) == 0 {
		return
	}
	log.Printf("[Transport] flushing %d queued frames", len(frames))
	for i, env := range frames {
		if err := s.writeFrame(conn, env); err != nil {
			log.Printf("[Transport] flush interrupted at frame %d: %v", i, err)
			for _, rest := range frames[i:] {
				s.queue.push(rest, criticalTypes[rest.Type])
			}
			return
		}
	}
}

// reassertSubscriptions replays chat and download subscriptions after an
// open so the server resumes pushing events for them.
func (s *Socket) reassertSubscriptions(conn *websocket.Conn) {
	s.mu.RLock()
	chats := make([]string, 0, len(s.subs))
	for id := range s.subs {
		chats = append(chats, id)
	}
	downloads := make([]string, 0, len(s.downloads))
	for id := range s.downloads {
		downloads = append(downloads, id)
	}
	s.mu.RUnlock()

	for _, id := range chats {
		env, err := protocol.NewEnvelope(protocol.TypeChatSubscribe, protocol.SubscribePayload{ChatID: id})
		if err != nil {
			continue
		}
		if err := s.writeFrame(conn, env); err != nil {
			log.Printf("[Transport] resubscribe %s failed: %v", id, err)
			return
		}
	}
	for _, id := range downloads {
		env, err := protocol.NewEnvelope(protocol.TypeDownloadSubscribe, protocol.DownloadSubscribePayload{DownloadID: id})
		if err != nil {
			continue
		}
		if err := s.writeFrame(conn, env); err != nil {
			log.Printf("[Transport] download resubscribe %s failed: %v", id, err)
			return
		}
	}
}

// readPump reads frames until the connection dies, then hands off to the
// reconnect procedure. One pump per underlying connection.
func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Transport] read error: %v", err)
			}
			s.connectionLost(conn, err)
			return
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		env, err := protocol.ParseEnvelope(message)
		if err != nil {
			log.Printf("[Transport] failed to parse frame: %v", err)
			continue
		}
		s.route(env)
	}
}

// keepalive pings on a fixed interval and forces a reconnect when the
// connection has gone silent past the idle timeout.
func (s *Socket) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn == conn && s.connected
			idle := time.Since(s.lastActivity)
			s.mu.RUnlock()
			if !current {
				return
			}

			if idle > s.cfg.IdleTimeout {
				log.Printf("[Transport] connection idle for %s, forcing reconnect", idle.Round(time.Second))
				conn.Close()
				return
			}

			env, err := protocol.NewEnvelope(protocol.TypePing, protocol.PingPayload{Time: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			if err := s.writeFrame(conn, env); err != nil {
				return
			}
		}
	}
}

// connectionLost transitions to disconnected exactly once per connection
// and starts the reconnect procedure.
func (s *Socket) connectionLost(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn || s.closed {
		s.mu.Unlock()
		return
	}
	s.conn.Close()
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	log.Printf("[Transport] disconnected: %v", err)
	s.publish(events.ConnectionLost, err)
	s.scheduleReconnect()
}

// scheduleReconnect runs the backoff loop in the background. Only one loop
// runs at a time; at the attempt cap it stops and surfaces a persistent
// disconnected signal, leaving recovery to an explicit Connect.
func (s *Socket) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnecting || s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
		}()

		for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
			delay := s.cfg.ReconnectBaseDelay << uint(attempt-1)
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(delay):
			}

			s.mu.RLock()
			skip := s.connected || s.closed
			s.mu.RUnlock()
			if skip {
				return
			}

			log.Printf("[Transport] reconnect attempt %d/%d", attempt, s.cfg.MaxReconnectAttempts)
			err := s.dial(context.Background())
			if err == nil || errors.Is(err, ErrClosed) {
				return
			}
			log.Printf("[Transport] reconnect attempt %d failed: %v", attempt, err)
		}

		s.mu.Lock()
		s.gaveUp = true
		s.mu.Unlock()
		log.Printf("[Transport] giving up after %d reconnect attempts", s.cfg.MaxReconnectAttempts)
		s.publish(events.ConnectionGaveUp)
	}()
}

func (s *Socket) publish(name string, args ...interface{}) {
	if s.bus != nil {
		s.bus.Publish(name, args...)
	}
}
