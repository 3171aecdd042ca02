package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parley/internal/version"
)

var (
	// ErrUnauthorized means the token was rejected.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrRateLimited means the gateway throttled the request.
	ErrRateLimited = errors.New("api: rate limited")

	// ErrServerError means the gateway failed upstream.
	ErrServerError = errors.New("api: upstream server error")
)

// Config configures the REST client.
type Config struct {
	// BaseURL is the gateway's REST root.
	BaseURL string `json:"base_url"`

	// Token authenticates requests. Optional.
	Token string `json:"token"`

	// ClientID is attached to every request body so the gateway can avoid
	// echoing our own actions back over the socket.
	ClientID string `json:"-"`

	// Timeout bounds each request. Default 30s.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns the default REST client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:18789/api",
		Timeout: 30 * time.Second,
	}
}

// Client initiates chat work over REST. Calls return only the initiation
// outcome; results arrive over the socket.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a REST client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type sendMessageRequest struct {
	Content     string   `json:"content"`
	Files       []string `json:"files,omitempty"`
	ImagePrompt bool     `json:"imagePrompt,omitempty"`
	ClientID    string   `json:"clientId,omitempty"`
}

type runToolRequest struct {
	Tool     string                 `json:"tool"`
	Args     map[string]interface{} `json:"args,omitempty"`
	ClientID string                 `json:"clientId,omitempty"`
}

type feedbackRequest struct {
	Rating   int    `json:"rating"`
	ClientID string `json:"clientId,omitempty"`
}

// SendMessage asks the gateway to run a chat turn. The reply streams back
// over the socket, so a nil return only means the request was accepted.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, files []string, imagePrompt bool) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return fmt.Errorf("empty chat id")
	}
	return c.post(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", sendMessageRequest{
		Content:     text,
		Files:       files,
		ImagePrompt: imagePrompt,
		ClientID:    c.cfg.ClientID,
	})
}

// RunTool starts a tool execution in a chat. Progress and results arrive as
// tool stream frames.
func (c *Client) RunTool(ctx context.Context, chatID, tool string, args map[string]interface{}) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return fmt.Errorf("empty chat id")
	}
	if strings.TrimSpace(tool) == "" {
		return fmt.Errorf("empty tool name")
	}
	return c.post(ctx, "/chats/"+url.PathEscape(chatID)+"/tools", runToolRequest{
		Tool:     tool,
		Args:     args,
		ClientID: c.cfg.ClientID,
	})
}

// SubmitFeedback records a tri-state rating for a message.
func (c *Client) SubmitFeedback(ctx context.Context, messageID string, rating int) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return fmt.Errorf("empty message id")
	}
	return c.post(ctx, "/messages/"+url.PathEscape(messageID)+"/feedback", feedbackRequest{
		Rating:   rating,
		ClientID: c.cfg.ClientID,
	})
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("%w (status %d)", ErrServerError, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
