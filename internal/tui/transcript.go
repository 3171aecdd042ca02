package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"

	"parley/internal/chat"
	"parley/internal/streams"
)

// sysNote is a local line the TUI injects into the transcript: help text,
// search results, server warnings. These never reach the conversation or
// the archive.
type sysNote struct {
	Text string
	At   time.Time
}

// TranscriptModel renders one conversation inside a viewport. The
// conversation owns the transcript; this model only draws the latest
// snapshot plus local system notes and live tool activity.
type TranscriptModel struct {
	Viewport      viewport.Model
	Width         int
	Height        int
	Styles        Styles
	AssistantName string
	UserName      string
	Location      *time.Location
	ThinkingFrame int
	Notes         []sysNote
	ToolNames     map[string]string
}

// NewTranscriptModel creates a transcript view.
func NewTranscriptModel(styles Styles, assistantName string, location *time.Location) TranscriptModel {
	vp := viewport.New(80, 20)
	vp.SetContent("")
	name := assistantName
	if name == "" {
		name = "Assistant"
	}
	return TranscriptModel{
		Viewport:      vp,
		Styles:        styles,
		AssistantName: name,
		Location:      location,
	}
}

// SetSize updates the viewport dimensions.
func (t *TranscriptModel) SetSize(width, height int) {
	t.Width = width
	t.Height = height
	t.Viewport.Width = width
	t.Viewport.Height = height
}

// AddNote appends a local system line.
func (t *TranscriptModel) AddNote(text string) {
	t.Notes = append(t.Notes, sysNote{Text: text, At: time.Now()})
}

// ThinkingTick advances the KITT scanner animation by one frame.
func (t *TranscriptModel) ThinkingTick() {
	t.ThinkingFrame++
}

// Refresh rebuilds the viewport content from the conversation snapshot and
// the active tool streams, then scrolls to the bottom.
func (t *TranscriptModel) Refresh(conv *chat.Conversation, tools []streams.ToolStream) {
	t.Viewport.SetContent(t.render(conv, tools))
	t.Viewport.GotoBottom()
}

// render produces the full transcript text.
func (t *TranscriptModel) render(conv *chat.Conversation, tools []streams.ToolStream) string {
	var sb strings.Builder
	maxWidth := t.Width - 6 // padding
	if maxWidth < 20 {
		maxWidth = 20
	}

	var msgs []chat.Message
	var notice string
	if conv != nil {
		msgs = conv.Messages()
		notice = conv.Notice()
	}

	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString(t.Styles.Divider.Render(strings.Repeat("-", maxWidth)))
			sb.WriteString("\n")
		}
		sb.WriteString(t.renderMessage(msg, maxWidth))
		sb.WriteString("\n")
	}

	// Live tool activity for streams not yet folded into a message.
	for _, ts := range tools {
		if ts.State.Terminal() && ts.FinalMessageID != "" {
			continue // summaries already attached to the final message
		}
		sb.WriteString(renderToolBlock(ts, t.ToolNames, t.Styles, maxWidth))
		sb.WriteString("\n")
	}

	// Local notes go last so search results and help sit under the chat.
	for _, note := range t.Notes {
		sb.WriteString(t.Styles.SystemBubble.Render(note.Text))
		sb.WriteString("\n")
	}

	if notice != "" {
		sb.WriteString(t.Styles.Notice.Render("! " + notice))
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderMessage renders a single transcript entry.
func (t *TranscriptModel) renderMessage(msg chat.Message, maxWidth int) string {
	var sb strings.Builder

	switch msg.Role {
	case chat.RoleUser:
		userName := t.UserName
		if userName == "" {
			userName = "You"
		}
		label := t.Styles.UserLabel.Render(userName)
		ts := t.Styles.Muted.Render(t.formatTimestamp(msg.CreatedAt))
		sb.WriteString(fmt.Sprintf("%s %s\n", label, ts))
		wrapped := wrapText(msg.Content, maxWidth)
		sb.WriteString(t.Styles.UserBubble.Render(wrapped))
		for _, f := range msg.Files {
			sb.WriteString("\n")
			sb.WriteString(t.Styles.Muted.Render("    @ " + f))
		}

	case chat.RoleAssistant:
		label := t.Styles.AssistantLabel.Render(t.AssistantName)
		ts := t.Styles.Muted.Render(t.formatTimestamp(msg.CreatedAt))
		sb.WriteString(fmt.Sprintf("%s %s", label, ts))
		if mark := feedbackMark(msg.Feedback); mark != "" {
			sb.WriteString(" " + t.Styles.FeedbackMark.Render(mark))
		}
		sb.WriteString("\n")

		switch msg.State {
		case chat.StateLoading:
			if strings.TrimSpace(msg.Content) == "" {
				sb.WriteString(t.renderKITTBar())
			} else {
				wrapped := wrapText(msg.Content, maxWidth)
				sb.WriteString(t.Styles.AssistantBubble.Render(wrapped))
				sb.WriteString(" _") // cursor indicator
			}
		case chat.StateError:
			sb.WriteString(t.Styles.ErrorBubble.Render(wrapText(msg.Content, maxWidth)))
		default:
			wrapped := wrapText(msg.Content, maxWidth)
			sb.WriteString(t.Styles.AssistantBubble.Render(wrapped))
		}

		for _, ks := range msg.KeySummaries {
			sb.WriteString("\n")
			sb.WriteString(t.Styles.Summary.Render("    * " + clip(ks.Message, maxWidth-6)))
		}
	}

	return sb.String()
}

// feedbackMark renders the tri-state rating as a compact suffix.
func feedbackMark(f chat.Feedback) string {
	switch f {
	case chat.FeedbackUp:
		return "[+1]"
	case chat.FeedbackDown:
		return "[-1]"
	default:
		return ""
	}
}

// renderKITTBar renders a KITT-style bouncing scanner bar for the thinking indicator.
func (t *TranscriptModel) renderKITTBar() string {
	const trackWidth = 16
	const barWidth = 3

	// Bounce: frame goes 0..maxPos, maxPos+1..2*maxPos = returning
	maxPos := trackWidth - barWidth // 13
	cycle := 2 * maxPos             // 26 frames per full bounce
	pos := t.ThinkingFrame % cycle
	if pos > maxPos {
		pos = cycle - pos // bounce back
	}

	label := fmt.Sprintf("  %s is thinking  ", t.AssistantName)
	styledLabel := t.Styles.Muted.Render(label)

	// Build styled track with bright scanner segment
	var styled strings.Builder
	styled.WriteString(t.Styles.ThinkingTrack.Render("["))
	for i := 0; i < trackWidth; i++ {
		if i >= pos && i < pos+barWidth {
			styled.WriteString(t.Styles.ThinkingBar.Render("="))
		} else {
			styled.WriteString(t.Styles.ThinkingTrack.Render(" "))
		}
	}
	styled.WriteString(t.Styles.ThinkingTrack.Render("]"))

	return styledLabel + styled.String()
}

// formatTimestamp formats a timestamp in the configured timezone.
func (t *TranscriptModel) formatTimestamp(ts time.Time) string {
	if t.Location != nil {
		return ts.In(t.Location).Format("15:04")
	}
	return ts.Format("15:04")
}

// View renders the transcript viewport.
func (t TranscriptModel) View() string {
	return t.Viewport.View()
}

// wrapText wraps text to fit within maxWidth.
func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}

	var result strings.Builder
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if i > 0 {
			result.WriteString("\n")
		}

		// Simple word wrapping
		if len(line) <= maxWidth {
			result.WriteString(line)
			continue
		}

		words := strings.Fields(line)
		currentLine := ""
		for _, word := range words {
			if currentLine == "" {
				currentLine = word
			} else if len(currentLine)+1+len(word) <= maxWidth {
				currentLine += " " + word
			} else {
				result.WriteString(currentLine + "\n")
				currentLine = word
			}
		}
		if currentLine != "" {
			result.WriteString(currentLine)
		}
	}

	return result.String()
}
