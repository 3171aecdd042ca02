package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies a wire frame by its type string.
type MessageType string

const (
	// Server -> client: model token streaming
	TypeToken         MessageType = "token"          // one text fragment for the active response
	TypeComplete      MessageType = "complete"       // terminal signal with final content and id
	TypeChatToken     MessageType = "chat:token"     // chat-scoped token variant
	TypeChatComplete  MessageType = "chat:complete"  // chat-scoped completion variant
	TypeStreamStarted MessageType = "stream_started" // a model response stream began
	TypeNewMessage    MessageType = "new_message"    // server-pushed message with no local placeholder

	// Server -> client: tool execution streaming
	TypeToolStreamStarted  MessageType = "tool_stream_started"
	TypeToolStreamChunk    MessageType = "tool_stream_chunk"
	TypeToolStreamComplete MessageType = "tool_stream_complete"
	TypeToolStreamError    MessageType = "tool_stream_error"

	// Server -> client: chat metadata and notices
	TypeChatTitleUpdated   MessageType = "chat_title_updated"
	TypeContextWarning     MessageType = "chat:context_warning"
	TypePerformanceWarning MessageType = "chat:performance_warning"
	TypeChatError          MessageType = "chat:error"

	// Keepalive
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	// Client -> server
	TypeChatSubscribe     MessageType = "chat:subscribe"
	TypeChatUnsubscribe   MessageType = "chat:unsubscribe"
	TypeStopGeneration    MessageType = "stop_generation"
	TypeStopDeepSearch    MessageType = "stop_deep_search"
	TypeDownloadSubscribe MessageType = "download:subscribe"
)

// Prefixes for message families dispatched by pattern rather than exact type.
const (
	DownloadPrefix   = "download:"
	SharePrefix      = "share:"
	ActivationPrefix = "activation:"
)

// Chunk types carried by tool_stream_chunk frames.
const (
	ChunkContent    = "content"
	ChunkProgress   = "progress"
	ChunkKeySummary = "key_summary"
)

// Envelope is the wire frame: a type string plus an opaque payload object.
// Outbound payloads are augmented with the sender's clientId before transmit.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TokenPayload delivers one incremental text fragment for a streaming response.
type TokenPayload struct {
	ChatID    string `json:"chatId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Token     string `json:"token"`
}

// CompletePayload is the terminal signal for a model response. It carries the
// authoritative message id and full final text, plus any chat metadata that
// changed as a side effect of the response.
type CompletePayload struct {
	ChatID         string    `json:"chatId,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	FinalMessageID string    `json:"finalMessageId"`
	Message        string    `json:"message"`
	Title          string    `json:"title,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// StreamStartedPayload announces that a model response stream began.
type StreamStartedPayload struct {
	ChatID    string `json:"chatId"`
	RequestID string `json:"requestId,omitempty"`
}

// MessageInfo is the server's representation of one transcript message.
type MessageInfo struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// NewMessagePayload carries a server-pushed message that may not correspond
// to any locally inserted placeholder (e.g. a tool-triggered assistant reply).
type NewMessagePayload struct {
	ChatID  string      `json:"chatId"`
	Message MessageInfo `json:"message"`
}

// ToolStreamStartedPayload announces a new tool execution bound to a chat.
type ToolStreamStartedPayload struct {
	ChatID          string `json:"chatId"`
	ToolName        string `json:"toolName"`
	ToolExecutionID string `json:"toolExecutionId"`
	TempMessageID   string `json:"tempMessageId,omitempty"`
}

// ChunkData is the body of one tool stream chunk. Which fields are set
// depends on the chunk type: content chunks set Content, progress chunks set
// Progress, key-summary chunks set Message and Timestamp.
type ChunkData struct {
	Content   string    `json:"content,omitempty"`
	Progress  string    `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ToolStreamChunkPayload delivers one incremental update for a running tool.
type ToolStreamChunkPayload struct {
	ChatID          string    `json:"chatId"`
	ToolExecutionID string    `json:"toolExecutionId"`
	ChunkType       string    `json:"chunkType"`
	Data            ChunkData `json:"data"`
}

// ToolStreamCompletePayload finalizes a tool execution.
type ToolStreamCompletePayload struct {
	ChatID          string `json:"chatId"`
	ToolExecutionID string `json:"toolExecutionId"`
	FinalMessageID  string `json:"finalMessageId,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ToolStreamErrorPayload reports a failed tool execution.
type ToolStreamErrorPayload struct {
	ChatID          string `json:"chatId"`
	ToolExecutionID string `json:"toolExecutionId"`
	Error           string `json:"error"`
}

// TitleUpdatedPayload carries a renamed chat title.
type TitleUpdatedPayload struct {
	ChatID string `json:"chatId"`
	Title  string `json:"title"`
}

// ContextWarningPayload warns that a chat is nearing its context window.
type ContextWarningPayload struct {
	ChatID     string `json:"chatId"`
	UsedTokens int    `json:"usedTokens,omitempty"`
	MaxTokens  int    `json:"maxTokens,omitempty"`
	Message    string `json:"message,omitempty"`
}

// PerformanceWarningPayload warns about degraded response latency.
type PerformanceWarningPayload struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// ChatErrorPayload reports a chat-level failure for the in-flight response.
type ChatErrorPayload struct {
	ChatID    string `json:"chatId"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

// DownloadEventPayload carries progress for a subscribed export/download.
// The concrete event kind is the frame's type suffix (progress, complete,
// error).
type DownloadEventPayload struct {
	DownloadID string  `json:"downloadId"`
	Status     string  `json:"status,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	URL        string  `json:"url,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ShareEventPayload carries share lifecycle events (accepted, declined,
// revoked) fanned out to interested views.
type ShareEventPayload struct {
	ShareID string `json:"shareId"`
	ChatID  string `json:"chatId,omitempty"`
	Status  string `json:"status,omitempty"`
}

// ActivationEventPayload carries account activation state changes.
type ActivationEventPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PingPayload is the keepalive frame body, carrying the sender's clock.
type PingPayload struct {
	Time int64 `json:"time"`
}

// SubscribePayload subscribes or unsubscribes a chat for pushed events.
type SubscribePayload struct {
	ChatID string `json:"chatId"`
}

// StopPayload requests cancellation of an in-flight generation or deep
// search. Cancellation is advisory; terminal events still arrive normally.
type StopPayload struct {
	RequestID string `json:"requestId"`
}

// DownloadSubscribePayload subscribes to progress events for a download.
type DownloadSubscribePayload struct {
	DownloadID string `json:"downloadId"`
}

// ParseEnvelope decodes the outer wire frame without touching the payload.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// NewEnvelope builds a frame from a type and a payload value.
func NewEnvelope(t MessageType, payload interface{}) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, Payload: raw}, nil
}

// AttachClientID sets the clientId field on a payload object, preserving all
// other fields. A nil or empty payload becomes {"clientId": id}.
func AttachClientID(payload json.RawMessage, clientID string) (json.RawMessage, error) {
	fields := make(map[string]interface{})
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}
	fields["clientId"] = clientID
	return json.Marshal(fields)
}

// Decode parses the payload into the typed struct for the envelope's type.
// Unknown types return the raw payload so callers can still inspect or
// forward the frame.
func (e *Envelope) Decode() (interface{}, error) {
	// Frames like pong may arrive with no payload at all.
	data := e.Payload
	if len(data) == 0 {
		data = []byte("{}")
	}

	switch e.Type {
	case TypeToken, TypeChatToken:
		var p TokenPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeComplete, TypeChatComplete:
		var p CompletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeStreamStarted:
		var p StreamStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeNewMessage:
		var p NewMessagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeToolStreamStarted:
		var p ToolStreamStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeToolStreamChunk:
		var p ToolStreamChunkPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeToolStreamComplete:
		var p ToolStreamCompletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeToolStreamError:
		var p ToolStreamErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeChatTitleUpdated:
		var p TitleUpdatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeContextWarning:
		var p ContextWarningPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypePerformanceWarning:
		var p PerformanceWarningPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeChatError:
		var p ChatErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	case TypePing, TypePong:
		var p PingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil

	default:
		switch {
		case e.HasPrefix(DownloadPrefix):
			var p DownloadEventPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, err
			}
			return &p, nil

		case e.HasPrefix(SharePrefix):
			var p ShareEventPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, err
			}
			return &p, nil

		case e.HasPrefix(ActivationPrefix):
			var p ActivationEventPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, err
			}
			return &p, nil
		}
		return e.Payload, nil
	}
}

// HasPrefix reports whether the frame type begins with the given family
// prefix (e.g. "download:").
func (e *Envelope) HasPrefix(prefix string) bool {
	t := string(e.Type)
	return len(t) > len(prefix) && t[:len(prefix)] == prefix
}

// Subtype returns the portion of the frame type after the family prefix, or
// the whole type when the prefix does not match.
func (e *Envelope) Subtype(prefix string) string {
	t := string(e.Type)
	if e.HasPrefix(prefix) {
		return t[len(prefix):]
	}
	return t
}
