package tui

import (
	"fmt"
	"strings"
	"time"

	"parley/internal/streams"
)

// toolLabel resolves the human name for a tool, falling back to the raw id.
func toolLabel(names map[string]string, tool string) string {
	if name, ok := names[tool]; ok && name != "" {
		return name
	}
	if tool == "" {
		return "Tool"
	}
	return tool
}

// renderToolLine renders the one-line status of a tool stream.
func renderToolLine(ts streams.ToolStream, names map[string]string, styles Styles) string {
	label := toolLabel(names, ts.ToolName)

	switch ts.State {
	case streams.StateStarted:
		return styles.ToolRunning.Render(fmt.Sprintf("  > [%s] Starting...", label))
	case streams.StateStreaming:
		detail := ts.LatestProgress
		if detail == "" {
			detail = "Running..."
		}
		return styles.ToolRunning.Render(fmt.Sprintf("  > [%s] %s", label, detail))
	case streams.StateCompleted:
		return styles.ToolComplete.Render(fmt.Sprintf("  + [%s] Done%s", label, toolElapsed(ts)))
	case streams.StateErrored:
		return styles.ToolError.Render(fmt.Sprintf("  x [%s] %s%s", label, ts.Error, toolElapsed(ts)))
	default:
		return styles.Muted.Render(fmt.Sprintf("  ? [%s] %s", label, ts.State))
	}
}

// renderToolBlock renders a tool stream with its progress trail and key
// summaries, for the transcript of the active chat.
func renderToolBlock(ts streams.ToolStream, names map[string]string, styles Styles, width int) string {
	var sb strings.Builder
	sb.WriteString(renderToolLine(ts, names, styles))

	maxDetail := width - 8
	if maxDetail < 10 {
		maxDetail = 10
	}

	// Summaries are worth keeping on screen; progress only matters live.
	for _, ks := range ts.KeySummaries {
		sb.WriteString("\n")
		sb.WriteString(styles.Summary.Render("    * " + clip(ks.Message, maxDetail)))
	}

	if !ts.State.Terminal() && ts.Content != "" {
		preview := clip(streams.RenderText(ts.Content), maxDetail)
		if preview != "" {
			sb.WriteString("\n")
			sb.WriteString(styles.Muted.Render("    " + preview))
		}
	}

	return sb.String()
}

// toolElapsed formats the run time of a finished stream.
func toolElapsed(ts streams.ToolStream) string {
	if ts.StartedAt.IsZero() || ts.LastEventAt.IsZero() {
		return ""
	}
	d := ts.LastEventAt.Sub(ts.StartedAt)
	if d <= 0 {
		return ""
	}
	if d < time.Second {
		return fmt.Sprintf(" (%dms)", d.Milliseconds())
	}
	return fmt.Sprintf(" (%.1fs)", d.Seconds())
}

// clip collapses newlines and truncates to max characters.
func clip(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if max > 3 && len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
