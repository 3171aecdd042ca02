package streams

import (
	"log"
	"sync"
	"time"

	"parley/pkg/protocol"
)

// UpdateType classifies an aggregator notification.
type UpdateType string

const (
	UpdateStarted   UpdateType = "stream_started"
	UpdateChunk     UpdateType = "chunk_received"
	UpdateCompleted UpdateType = "stream_completed"
	UpdateError     UpdateType = "stream_error"
)

// Update is delivered to subscribers. Streams holds snapshots of every
// active stream belonging to the subscriber's chat at notification time, so
// consumers can replace their view wholesale.
type Update struct {
	Type     UpdateType
	StreamID string
	Streams  []ToolStream
}

// Subscriber receives coalesced updates for one chat.
type Subscriber func(Update)

// Config configures an Aggregator.
type Config struct {
	// ToolNames maps wire tool names to display names for user-facing error
	// text. Nil shows wire names as-is.
	ToolNames func(name string) string
}

// Aggregator converts per-chunk tool streaming events into chat-scoped state
// snapshots. All state is keyed by toolExecutionId so concurrent streams on
// the same chat interleave without cross-contamination, and every
// notification is filtered to the subscriber's chatId.
type Aggregator struct {
	mu      sync.Mutex
	streams map[string]*toolStream
	subs    map[string][]*streamSub
	names   func(string) string
}

type streamSub struct {
	chatID string
	fn     Subscriber
}

// New creates an empty Aggregator.
func New(cfg Config) *Aggregator {
	names := cfg.ToolNames
	if names == nil {
		names = func(name string) string { return name }
	}
	return &Aggregator{
		streams: make(map[string]*toolStream),
		subs:    make(map[string][]*streamSub),
		names:   names,
	}
}

// Subscribe registers fn for updates about chatID's streams and returns a
// cancel function. Updates never include another chat's streams.
func (a *Aggregator) Subscribe(chatID string, fn Subscriber) func() {
	sub := &streamSub{chatID: chatID, fn: fn}

	a.mu.Lock()
	a.subs[chatID] = append(a.subs[chatID], sub)
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		subs := a.subs[chatID]
		for i, s := range subs {
			if s == sub {
				a.subs[chatID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(a.subs[chatID]) == 0 {
			delete(a.subs, chatID)
		}
	}
}

// HandleStarted creates the stream record and notifies the chat.
func (a *Aggregator) HandleStarted(p *protocol.ToolStreamStartedPayload) {
	if p.ToolExecutionID == "" {
		log.Printf("[Streams] tool_stream_started without toolExecutionId, chat=%s tool=%s", p.ChatID, p.ToolName)
		return
	}

	a.mu.Lock()
	if _, exists := a.streams[p.ToolExecutionID]; exists {
		a.mu.Unlock()
		log.Printf("[Streams] duplicate tool_stream_started for %s", p.ToolExecutionID)
		return
	}
	now := time.Now()
	a.streams[p.ToolExecutionID] = &toolStream{
		id:            p.ToolExecutionID,
		chatID:        p.ChatID,
		toolName:      p.ToolName,
		tempMessageID: p.TempMessageID,
		state:         StateStarted,
		startedAt:     now,
		lastEventAt:   now,
	}
	a.mu.Unlock()

	a.notify(p.ChatID, UpdateStarted, p.ToolExecutionID)
}

// HandleChunk routes one chunk into the stream record by chunk type and
// notifies the chat with a full snapshot. Chunks for unknown executions or
// terminal streams are logged and dropped.
func (a *Aggregator) HandleChunk(p *protocol.ToolStreamChunkPayload) {
	a.mu.Lock()
	ts, ok := a.streams[p.ToolExecutionID]
	if !ok {
		a.mu.Unlock()
		log.Printf("[Streams] chunk for unknown stream %s (chat=%s)", p.ToolExecutionID, p.ChatID)
		return
	}
	if ts.state.Terminal() {
		a.mu.Unlock()
		log.Printf("[Streams] chunk for terminal stream %s ignored", p.ToolExecutionID)
		return
	}

	switch p.ChunkType {
	case protocol.ChunkContent:
		ts.content.WriteString(p.Data.Content)
		ts.state = StateStreaming
	case protocol.ChunkProgress:
		ts.progress = append(ts.progress, p.Data.Progress)
		ts.latest = p.Data.Progress
	case protocol.ChunkKeySummary:
		ts.summaries = append(ts.summaries, KeySummary{
			Message:   p.Data.Message,
			Timestamp: p.Data.Timestamp,
		})
	default:
		log.Printf("[Streams] unknown chunk type %q for stream %s", p.ChunkType, p.ToolExecutionID)
	}
	ts.lastEventAt = time.Now()
	chatID := ts.chatID
	a.mu.Unlock()

	a.notify(chatID, UpdateChunk, p.ToolExecutionID)
}

// HandleComplete finalizes a stream. When the payload supplies a final
// message body, it replaces the accumulated content wholesale.
func (a *Aggregator) HandleComplete(p *protocol.ToolStreamCompletePayload) {
	a.mu.Lock()
	ts, ok := a.streams[p.ToolExecutionID]
	if !ok {
		a.mu.Unlock()
		log.Printf("[Streams] complete for unknown stream %s", p.ToolExecutionID)
		return
	}
	if ts.state.Terminal() {
		a.mu.Unlock()
		log.Printf("[Streams] complete for terminal stream %s ignored", p.ToolExecutionID)
		return
	}

	ts.state = StateCompleted
	ts.finalID = p.FinalMessageID
	if p.Message != "" {
		ts.content.Reset()
		ts.content.WriteString(p.Message)
	}
	ts.lastEventAt = time.Now()
	chatID := ts.chatID
	a.mu.Unlock()

	a.notify(chatID, UpdateCompleted, p.ToolExecutionID)
}

// HandleError moves a stream to the errored state with a user-facing
// message translated from the upstream failure.
func (a *Aggregator) HandleError(p *protocol.ToolStreamErrorPayload) {
	a.mu.Lock()
	ts, ok := a.streams[p.ToolExecutionID]
	if !ok {
		a.mu.Unlock()
		log.Printf("[Streams] error for unknown stream %s: %s", p.ToolExecutionID, p.Error)
		return
	}
	if ts.state.Terminal() {
		a.mu.Unlock()
		log.Printf("[Streams] error for terminal stream %s ignored", p.ToolExecutionID)
		return
	}

	ts.state = StateErrored
	ts.errText = TranslateError(a.names(ts.toolName), p.Error)
	ts.lastEventAt = time.Now()
	chatID := ts.chatID
	a.mu.Unlock()

	a.notify(chatID, UpdateError, p.ToolExecutionID)
}

// ActiveStreams returns snapshots of every stream currently held for a chat.
func (a *Aggregator) ActiveStreams(chatID string) []ToolStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatSnapshots(chatID)
}

// Stream returns the snapshot for one execution id.
func (a *Aggregator) Stream(toolExecutionID string) (ToolStream, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts, ok := a.streams[toolExecutionID]
	if !ok {
		return ToolStream{}, false
	}
	return ts.snapshot(), true
}

// Release drops a terminal stream from the active set. Releasing a live
// stream is refused so a consumer cannot strand an execution mid-flight.
func (a *Aggregator) Release(toolExecutionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts, ok := a.streams[toolExecutionID]
	if !ok || !ts.state.Terminal() {
		return false
	}
	delete(a.streams, toolExecutionID)
	return true
}

// SweepStale errors out non-terminal streams with no event for maxAge and
// returns how many were swept. Keeps transcripts from being stuck loading
// when a terminal frame is lost.
func (a *Aggregator) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	a.mu.Lock()
	var swept []*toolStream
	for _, ts := range a.streams {
		if !ts.state.Terminal() && ts.lastEventAt.Before(cutoff) {
			ts.state = StateErrored
			ts.errText = TranslateError(a.names(ts.toolName), "stream timed out")
			ts.lastEventAt = time.Now()
			swept = append(swept, ts)
		}
	}
	a.mu.Unlock()

	for _, ts := range swept {
		log.Printf("[Streams] swept stale stream %s (tool=%s chat=%s)", ts.id, ts.toolName, ts.chatID)
		a.notify(ts.chatID, UpdateError, ts.id)
	}
	return len(swept)
}

// notify delivers an update to chatID's subscribers with that chat's
// snapshots only. Subscriber panics are recovered and logged.
func (a *Aggregator) notify(chatID string, t UpdateType, streamID string) {
	a.mu.Lock()
	subs := make([]*streamSub, len(a.subs[chatID]))
	copy(subs, a.subs[chatID])
	snapshots := a.chatSnapshots(chatID)
	a.mu.Unlock()

	update := Update{Type: t, StreamID: streamID, Streams: snapshots}
	for _, sub := range subs {
		a.deliver(sub, update)
	}
}

func (a *Aggregator) deliver(sub *streamSub, update Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Streams] subscriber for chat %s panicked: %v", sub.chatID, r)
		}
	}()
	sub.fn(update)
}

// chatSnapshots builds the filtered snapshot list for a chat. Caller holds
// the lock.
func (a *Aggregator) chatSnapshots(chatID string) []ToolStream {
	var out []ToolStream
	for _, ts := range a.streams {
		if ts.chatID == chatID {
			out = append(out, ts.snapshot())
		}
	}
	return out
}
