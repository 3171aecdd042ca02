package streams

import (
	"fmt"
	"strings"
)

// Upstream failure categories recognized in raw tool errors. Matching is
// case-insensitive substring search over the raw error text.
var errorCategories = []struct {
	markers []string
	message string
}{
	{
		markers: []string{"rate limit", "rate_limit", "quota", "too many requests", "429"},
		message: "%s is rate limited right now. Please wait a moment and try again.",
	},
	{
		markers: []string{"service unavailable", "unavailable", "503"},
		message: "%s is temporarily unavailable. Please try again shortly.",
	},
	{
		markers: []string{"invalid api key", "api key", "unauthorized", "invalid credential", "401"},
		message: "%s could not authenticate with its upstream service. Check the configured credentials.",
	},
	{
		markers: []string{"internal server error", "internal error", "500"},
		message: "%s hit an upstream internal error. Please try again.",
	},
}

// TranslateError converts a raw upstream error into a user-facing message.
// Known failure categories get distinct phrasing; anything else falls back
// to a generic failure naming the tool. The raw text is never surfaced.
func TranslateError(toolName, raw string) string {
	if toolName == "" {
		toolName = "The tool"
	}

	lowered := strings.ToLower(raw)
	for _, cat := range errorCategories {
		for _, marker := range cat.markers {
			if strings.Contains(lowered, marker) {
				return fmt.Sprintf(cat.message, toolName)
			}
		}
	}
	return fmt.Sprintf("%s failed to complete. Please try again.", toolName)
}
