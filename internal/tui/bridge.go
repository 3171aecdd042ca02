package tui

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/events"
	"parley/pkg/protocol"
)

// Bridge forwards bus events into the BubbleTea program. The socket and the
// chat manager publish on the bus from their own goroutines; the bridge
// converts each event into a tea.Msg and queues it on the inbox, which the
// model drains with WaitCmd.
type Bridge struct {
	bus    *events.Bus
	inbox  chan tea.Msg
	done   chan struct{}
	cancel []func()
}

// NewBridge creates a bridge over the given bus. Call Start to subscribe.
func NewBridge(bus *events.Bus) *Bridge {
	return &Bridge{
		bus:   bus,
		inbox: make(chan tea.Msg, 256),
		done:  make(chan struct{}),
	}
}

// Start subscribes to every event the TUI renders.
func (b *Bridge) Start() {
	b.cancel = append(b.cancel,
		b.bus.Subscribe(events.ChatUpdated, func(args ...interface{}) {
			b.send(ChatUpdatedMsg{ChatID: argString(args, 0)})
		}),
		b.bus.Subscribe(events.ChatListChanged, func(args ...interface{}) {
			b.send(ChatListChangedMsg{
				ChatID: argString(args, 0),
				Title:  argString(args, 1),
			})
		}),
		b.bus.Subscribe(events.ConnectionLost, func(args ...interface{}) {
			var err error
			if len(args) > 0 {
				err, _ = args[0].(error)
			}
			b.send(ConnLostMsg{Err: err})
		}),
		b.bus.Subscribe(events.ConnectionRestored, func(args ...interface{}) {
			b.send(ConnRestoredMsg{})
		}),
		b.bus.Subscribe(events.ConnectionGaveUp, func(args ...interface{}) {
			b.send(ConnGaveUpMsg{})
		}),
		b.bus.Subscribe(events.ContextWarning, func(args ...interface{}) {
			if len(args) == 0 {
				return
			}
			if p, ok := args[0].(*protocol.ContextWarningPayload); ok {
				text := p.Message
				if text == "" {
					text = "This chat is close to its context limit. Consider starting a new one."
				}
				b.send(WarningMsg{ChatID: p.ChatID, Text: text})
			}
		}),
		b.bus.Subscribe(events.PerformanceWarning, func(args ...interface{}) {
			if len(args) == 0 {
				return
			}
			if p, ok := args[0].(*protocol.PerformanceWarningPayload); ok {
				b.send(WarningMsg{ChatID: p.ChatID, Text: p.Message})
			}
		}),
	)
}

// WaitCmd returns a tea.Cmd that blocks until the next bridged event.
// The model re-issues it after handling each bridged message.
func (b *Bridge) WaitCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.inbox:
			return msg
		case <-b.done:
			return nil
		}
	}
}

// Close unsubscribes and releases the inbox waiter.
func (b *Bridge) Close() {
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil

	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

// send enqueues a tea.Msg into the inbox channel (non-blocking, drops if full)
func (b *Bridge) send(msg tea.Msg) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.inbox <- msg:
	default:
		log.Printf("[TUI] bridge inbox full, dropping %T", msg)
	}
}

func argString(args []interface{}, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}
