package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/events"
	"parley/pkg/protocol"
)

// recordedFrame is one outbound frame as the server saw it.
type recordedFrame struct {
	Type    string
	Payload map[string]interface{}
}

// gatewayStub accepts websocket connections, records every non-keepalive
// frame the client sends, and lets tests push frames back.
type gatewayStub struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	frames chan recordedFrame
	pings  chan recordedFrame
	conns  chan *websocket.Conn

	// gate, when set, delays the upgrade until it is closed.
	gate chan struct{}

	mu       sync.Mutex
	upgrades int
}

func newGatewayStub(t *testing.T) *gatewayStub {
	t.Helper()
	g := &gatewayStub{
		frames: make(chan recordedFrame, 64),
		pings:  make(chan recordedFrame, 64),
		conns:  make(chan *websocket.Conn, 8),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gatewayStub) handle(w http.ResponseWriter, r *http.Request) {
	if g.gate != nil {
		<-g.gate
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.upgrades++
	g.mu.Unlock()

	select {
	case g.conns <- conn:
	default:
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			Type    string                 `json:"type"`
			Payload map[string]interface{} `json:"payload"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		frame := recordedFrame{Type: env.Type, Payload: env.Payload}
		if env.Type == "ping" || env.Type == "pong" {
			select {
			case g.pings <- frame:
			default:
			}
			continue
		}
		select {
		case g.frames <- frame:
		default:
		}
	}
}

func (g *gatewayStub) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *gatewayStub) upgradeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.upgrades
}

// nextFrame waits for the next recorded frame.
func (g *gatewayStub) nextFrame(t *testing.T) recordedFrame {
	t.Helper()
	select {
	case f := <-g.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return recordedFrame{}
	}
}

// push sends a frame to the most recently accepted connection.
func (g *gatewayStub) push(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (g *gatewayStub) acceptedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil
	}
}

func newTestSocket(g *gatewayStub, bus *events.Bus) *Socket {
	return New(Config{
		URL:                  g.url(),
		Bus:                  bus,
		PingInterval:         time.Minute,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   10 * time.Millisecond,
		MaxReconnectDelay:    50 * time.Millisecond,
	})
}

func TestQueuedSendsFlushCriticalFirst(t *testing.T) {
	g := newGatewayStub(t)
	g.gate = make(chan struct{})

	s := newTestSocket(g, nil)
	defer s.Close()

	// All three sends happen while the upgrade is gated, so they queue.
	err := s.Send(protocol.TypeChatSubscribe, protocol.SubscribePayload{ChatID: "chat-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	err = s.Send(protocol.TypeStopGeneration, protocol.StopPayload{RequestID: "r1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	err = s.Send(protocol.TypeChatSubscribe, protocol.SubscribePayload{ChatID: "chat-2"})
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, 3, s.QueuedFrames())

	// Open the gate; the background connect completes and flushes.
	close(g.gate)

	first := g.nextFrame(t)
	second := g.nextFrame(t)
	third := g.nextFrame(t)

	assert.Equal(t, "chat:subscribe", first.Type)
	assert.Equal(t, "chat-1", first.Payload["chatId"])
	assert.Equal(t, "chat:subscribe", second.Type)
	assert.Equal(t, "chat-2", second.Payload["chatId"])
	assert.Equal(t, "stop_generation", third.Type)
	assert.Equal(t, "r1", third.Payload["requestId"])

	// Every outbound payload carries the clientId.
	for _, f := range []recordedFrame{first, second, third} {
		assert.Equal(t, s.ClientID(), f.Payload["clientId"])
	}
}

func TestReconnectResubscribesChats(t *testing.T) {
	g := newGatewayStub(t)
	bus := events.New()

	var lost, restored bool
	var busMu sync.Mutex
	bus.Subscribe(events.ConnectionLost, func(args ...interface{}) {
		busMu.Lock()
		lost = true
		busMu.Unlock()
	})
	bus.Subscribe(events.ConnectionRestored, func(args ...interface{}) {
		busMu.Lock()
		restored = true
		busMu.Unlock()
	})

	s := newTestSocket(g, bus)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	conn := g.acceptedConn(t)
	require.NoError(t, s.SubscribeChat("chat-1"))
	require.NoError(t, s.SubscribeChat("chat-2"))
	g.nextFrame(t)
	g.nextFrame(t)

	// Server drops the connection; the socket reconnects and re-asserts.
	conn.Close()

	resubscribed := map[string]bool{}
	for i := 0; i < 2; i++ {
		f := g.nextFrame(t)
		require.Equal(t, "chat:subscribe", f.Type)
		resubscribed[f.Payload["chatId"].(string)] = true
	}
	assert.True(t, resubscribed["chat-1"])
	assert.True(t, resubscribed["chat-2"])

	require.Eventually(t, func() bool {
		busMu.Lock()
		defer busMu.Unlock()
		return lost && restored
	}, 3*time.Second, 10*time.Millisecond)
}

func TestInboundDispatchScopedAndBroadcast(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	broadcast := make(chan *protocol.Envelope, 4)
	scoped := make(chan *protocol.Envelope, 4)
	other := make(chan *protocol.Envelope, 4)

	s.On(BroadcastKey(protocol.TypeChatToken), func(env *protocol.Envelope) { broadcast <- env })
	s.On(ChatKey("c9", "token"), func(env *protocol.Envelope) { scoped <- env })
	s.On(ChatKey("c8", "token"), func(env *protocol.Envelope) { other <- env })

	g.push(t, conn, `{"type":"chat:token","payload":{"chatId":"c9","token":"Hi"}}`)

	select {
	case env := <-scoped:
		p, err := env.Decode()
		require.NoError(t, err)
		assert.Equal(t, "Hi", p.(*protocol.TokenPayload).Token)
	case <-time.After(2 * time.Second):
		t.Fatal("scoped listener never fired")
	}
	select {
	case <-broadcast:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast listener never fired")
	}
	select {
	case <-other:
		t.Fatal("listener for a different chat must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownFrameTypeStillBroadcast(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	got := make(chan *protocol.Envelope, 1)
	s.On(BroadcastKey("experimental_event"), func(env *protocol.Envelope) { got <- env })

	g.push(t, conn, `{"type":"experimental_event","payload":{"x":1}}`)

	select {
	case env := <-got:
		assert.Equal(t, protocol.MessageType("experimental_event"), env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("unknown type was not broadcast under its raw name")
	}
}

func TestShareEventsReachTheBus(t *testing.T) {
	g := newGatewayStub(t)
	bus := events.New()

	got := make(chan interface{}, 1)
	bus.Subscribe("share:accepted", func(args ...interface{}) {
		if len(args) > 0 {
			got <- args[0]
		}
	})

	s := newTestSocket(g, bus)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	g.push(t, conn, `{"type":"share:accepted","payload":{"shareId":"s1","chatId":"c1"}}`)

	select {
	case p := <-got:
		share, ok := p.(*protocol.ShareEventPayload)
		require.True(t, ok)
		assert.Equal(t, "s1", share.ShareID)
	case <-time.After(2 * time.Second):
		t.Fatal("share event never reached the bus")
	}
}

func TestChatWarningsReachTheBus(t *testing.T) {
	g := newGatewayStub(t)
	bus := events.New()

	got := make(chan interface{}, 2)
	bus.Subscribe(events.ContextWarning, func(args ...interface{}) {
		if len(args) > 0 {
			got <- args[0]
		}
	})
	bus.Subscribe(events.PerformanceWarning, func(args ...interface{}) {
		if len(args) > 0 {
			got <- args[0]
		}
	})

	s := newTestSocket(g, bus)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	g.push(t, conn, `{"type":"chat:context_warning","payload":{"chatId":"c1","usedTokens":7500,"maxTokens":8000,"message":"context nearly full"}}`)
	g.push(t, conn, `{"type":"chat:performance_warning","payload":{"chatId":"c1","message":"responses are slower than usual"}}`)

	for i := 0; i < 2; i++ {
		select {
		case p := <-got:
			switch warn := p.(type) {
			case *protocol.ContextWarningPayload:
				assert.Equal(t, "c1", warn.ChatID)
				assert.Equal(t, "context nearly full", warn.Message)
			case *protocol.PerformanceWarningPayload:
				assert.Equal(t, "responses are slower than usual", warn.Message)
			default:
				t.Fatalf("unexpected bus payload %T", p)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("warning never reached the bus")
		}
	}
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	survived := make(chan struct{}, 1)
	s.On(BroadcastKey(protocol.TypeToken), func(env *protocol.Envelope) { panic("bad listener") })
	s.On(BroadcastKey(protocol.TypeToken), func(env *protocol.Envelope) { survived <- struct{}{} })

	g.push(t, conn, `{"type":"token","payload":{"chatId":"c1","token":"x"}}`)

	select {
	case <-survived:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener never ran after first panicked")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))

	assert.True(t, s.IsConnected())
	assert.Equal(t, 1, g.upgradeCount())
}

func TestGiveUpAfterRetryCap(t *testing.T) {
	g := newGatewayStub(t)
	bus := events.New()

	gaveUp := make(chan struct{}, 1)
	bus.Subscribe(events.ConnectionGaveUp, func(args ...interface{}) {
		select {
		case gaveUp <- struct{}{}:
		default:
		}
	})

	s := New(Config{
		URL:                  g.url(),
		Bus:                  bus,
		PingInterval:         time.Minute,
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectDelay:    10 * time.Millisecond,
	})
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	require.True(t, s.IsConnected())

	// Take the server away entirely so every retry fails.
	g.srv.CloseClientConnections()
	g.srv.Close()

	select {
	case <-gaveUp:
	case <-time.After(3 * time.Second):
		t.Fatal("socket never surfaced the give-up signal")
	}
	assert.True(t, s.GaveUp())
	assert.False(t, s.IsConnected())
}

func TestKeepaliveSendsPings(t *testing.T) {
	g := newGatewayStub(t)
	s := New(Config{
		URL:                  g.url(),
		PingInterval:         20 * time.Millisecond,
		IdleTimeout:          time.Minute,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   10 * time.Millisecond,
	})
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	select {
	case ping := <-g.pings:
		assert.Equal(t, "ping", ping.Type)
		assert.NotNil(t, ping.Payload["time"])
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping observed")
	}
}

func TestServerPingGetsPongReply(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))
	conn := g.acceptedConn(t)

	g.push(t, conn, `{"type":"ping","payload":{"time":123}}`)

	select {
	case pong := <-g.pings:
		assert.Equal(t, "pong", pong.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong reply observed")
	}
}

func TestSendAfterClose(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	require.NoError(t, s.Connect(context.Background()))

	s.Close()
	s.Close() // double close is safe

	err := s.Send(protocol.TypeStopGeneration, protocol.StopPayload{RequestID: "r1"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestUnsubscribeChatLeavesSet(t *testing.T) {
	g := newGatewayStub(t)
	s := newTestSocket(g, nil)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.SubscribeChat("chat-1"))
	require.NoError(t, s.SubscribeChat("chat-2"))
	require.NoError(t, s.UnsubscribeChat("chat-1"))

	assert.ElementsMatch(t, []string{"chat-2"}, s.SubscribedChats())

	f := g.nextFrame(t)
	assert.Equal(t, "chat:subscribe", f.Type)
	f = g.nextFrame(t)
	assert.Equal(t, "chat:subscribe", f.Type)
	f = g.nextFrame(t)
	assert.Equal(t, "chat:unsubscribe", f.Type)
	assert.Equal(t, "chat-1", f.Payload["chatId"])
}
