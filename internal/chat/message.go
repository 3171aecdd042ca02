package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/streams"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageState is the lifecycle of one transcript entry.
type MessageState int

const (
	// StateFinal means the content is settled and the id is authoritative
	// (or the entry is a local user message awaiting confirmation).
	StateFinal MessageState = iota

	// StateLoading marks the assistant placeholder currently receiving
	// streamed tokens.
	StateLoading

	// StateError marks an entry whose content is a user-facing failure
	// notice instead of model output.
	StateError
)

func (s MessageState) String() string {
	switch s {
	case StateFinal:
		return "final"
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Feedback is the tri-state user rating on an assistant message.
type Feedback int

const (
	FeedbackNone Feedback = 0
	FeedbackUp   Feedback = 1
	FeedbackDown Feedback = -1
)

// Message is one displayed transcript entry. Entries start with a temp id
// and adopt the server id once a completion or new_message frame confirms
// them; token text accumulates in a side buffer, not in Content, until then.
type Message struct {
	ID           string
	Role         Role
	Content      string
	Files        []string
	State        MessageState
	Feedback     Feedback
	KeySummaries []streams.KeySummary
	CreatedAt    time.Time
}

// IsTemp reports whether the id is a client-local placeholder id.
func (m *Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, tempPrefix)
}

const tempPrefix = "temp-"

func tempID(role Role) string {
	return tempPrefix + string(role) + "-" + uuid.New().String()
}

// filterContent normalizes server-pushed assistant text before it enters the
// transcript. HTML fragments are projected to plain text; everything else
// passes through with surrounding whitespace trimmed.
func filterContent(content string) string {
	return strings.TrimSpace(streams.RenderText(content))
}
