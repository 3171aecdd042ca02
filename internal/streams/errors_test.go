package streams

import (
	"strings"
	"testing"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "rate limit",
			raw:  "openai: 429 Too Many Requests",
			want: "rate limited",
		},
		{
			name: "quota exhausted",
			raw:  "monthly quota exceeded for key",
			want: "rate limited",
		},
		{
			name: "service unavailable",
			raw:  "HTTP 503 Service Unavailable",
			want: "temporarily unavailable",
		},
		{
			name: "invalid credential",
			raw:  "invalid API key provided",
			want: "could not authenticate",
		},
		{
			name: "unauthorized",
			raw:  "401 Unauthorized",
			want: "could not authenticate",
		},
		{
			name: "upstream internal",
			raw:  "upstream returned 500 Internal Server Error",
			want: "internal error",
		},
		{
			name: "unrecognized falls back to generic",
			raw:  "flux capacitor misaligned",
			want: "failed to complete",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranslateError("Live Search", tt.raw)
			if !strings.Contains(got, tt.want) {
				t.Errorf("TranslateError(%q) = %q, want substring %q", tt.raw, got, tt.want)
			}
			if !strings.Contains(got, "Live Search") {
				t.Errorf("TranslateError(%q) = %q, must name the tool", tt.raw, got)
			}
			if strings.Contains(got, tt.raw) {
				t.Errorf("TranslateError(%q) leaked raw error text", tt.raw)
			}
		})
	}
}

func TestTranslateErrorEmptyToolName(t *testing.T) {
	got := TranslateError("", "anything")
	if !strings.Contains(got, "The tool") {
		t.Errorf("TranslateError with empty tool = %q, want generic subject", got)
	}
}
