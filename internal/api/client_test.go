package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &body))
		}
		mu.Lock()
		reqs = append(reqs, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Auth:   r.Header.Get("Authorization"),
			Body:   body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

func TestSendMessagePostsToChat(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusAccepted)
	c := New(Config{BaseURL: srv.URL, Token: "tok-1", ClientID: "client-9"})

	err := c.SendMessage(context.Background(), "chat-1", "hello", []string{"a.png"}, false)
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/chats/chat-1/messages", reqs[0].Path)
	assert.Equal(t, "Bearer tok-1", reqs[0].Auth)
	assert.Equal(t, "hello", reqs[0].Body["content"])
	assert.Equal(t, "client-9", reqs[0].Body["clientId"])
	assert.Equal(t, []interface{}{"a.png"}, reqs[0].Body["files"])
}

func TestSendMessageValidatesChatID(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:0"})
	assert.Error(t, c.SendMessage(context.Background(), "  ", "hello", nil, false))
}

func TestRunToolPostsToolAndArgs(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	c := New(Config{BaseURL: srv.URL})

	err := c.RunTool(context.Background(), "chat-1", "live_search", map[string]interface{}{"query": "go 1.22"})
	require.NoError(t, err)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/chats/chat-1/tools", reqs[0].Path)
	assert.Equal(t, "live_search", reqs[0].Body["tool"])
	args, ok := reqs[0].Body["args"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "go 1.22", args["query"])

	assert.Error(t, c.RunTool(context.Background(), "chat-1", " ", nil))
}

func TestSubmitFeedbackPostsRating(t *testing.T) {
	srv, requests := newCaptureServer(t, http.StatusOK)
	c := New(Config{BaseURL: srv.URL})

	require.NoError(t, c.SubmitFeedback(context.Background(), "55", -1))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/messages/55/feedback", reqs[0].Path)
	assert.Equal(t, float64(-1), reqs[0].Body["rating"])
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"accepted", http.StatusAccepted, nil},
		{"no content", http.StatusNoContent, nil},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"bad gateway", http.StatusBadGateway, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newCaptureServer(t, tt.status)
			c := New(Config{BaseURL: srv.URL})

			err := c.SendMessage(context.Background(), "chat-1", "x", nil, false)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestUnexpectedStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"error":"chat is archived"}`)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL})
	err := c.SendMessage(context.Background(), "chat-1", "x", nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "chat is archived")
}

func TestBaseURLNormalization(t *testing.T) {
	c := New(Config{BaseURL: "http://gateway.local/api/"})
	assert.Equal(t, "http://gateway.local/api", c.cfg.BaseURL)
	assert.False(t, strings.HasSuffix(c.cfg.BaseURL, "/"))
}
