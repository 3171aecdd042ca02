package streams

import (
	"strings"
	"time"
)

// StreamState is the lifecycle of one tool execution stream. Transitions are
// monotonic: Started -> Streaming (zero or more chunks) -> Completed or
// Errored. There is no transition out of a terminal state.
type StreamState int

const (
	StateStarted StreamState = iota
	StateStreaming
	StateCompleted
	StateErrored
)

// String returns the wire-style name for the state.
func (s StreamState) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s StreamState) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

// KeySummary is a structured note surfaced by a tool mid-execution to
// summarize a reasoning step.
type KeySummary struct {
	Message   string
	Timestamp time.Time
}

// ToolStream is an immutable snapshot of one tool execution's state as seen
// by subscribers. The aggregator owns the mutable record; snapshots are
// copied out on every notification so consumers can replace rather than
// patch their state.
type ToolStream struct {
	ToolExecutionID string
	ChatID          string
	ToolName        string
	TempMessageID   string
	FinalMessageID  string
	Content         string
	ProgressUpdates []string
	LatestProgress  string
	KeySummaries    []KeySummary
	State           StreamState
	Error           string
	StartedAt       time.Time
	LastEventAt     time.Time
}

// toolStream is the aggregator's mutable record for one execution.
type toolStream struct {
	id            string
	chatID        string
	toolName      string
	tempMessageID string
	finalID       string

	content   strings.Builder
	progress  []string
	latest    string
	summaries []KeySummary

	state       StreamState
	errText     string
	startedAt   time.Time
	lastEventAt time.Time
}

// snapshot copies the record into an independent ToolStream value.
func (ts *toolStream) snapshot() ToolStream {
	progress := make([]string, len(ts.progress))
	copy(progress, ts.progress)
	summaries := make([]KeySummary, len(ts.summaries))
	copy(summaries, ts.summaries)

	return ToolStream{
		ToolExecutionID: ts.id,
		ChatID:          ts.chatID,
		ToolName:        ts.toolName,
		TempMessageID:   ts.tempMessageID,
		FinalMessageID:  ts.finalID,
		Content:         ts.content.String(),
		ProgressUpdates: progress,
		LatestProgress:  ts.latest,
		KeySummaries:    summaries,
		State:           ts.state,
		Error:           ts.errText,
		StartedAt:       ts.startedAt,
		LastEventAt:     ts.lastEventAt,
	}
}
