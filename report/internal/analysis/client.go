package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Completer produces a raw completion for a prompt. The production
// implementation talks to an OpenAI-compatible endpoint; tests substitute
// a canned one.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientConfig configures the HTTP completion client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

func (c *ClientConfig) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a chat-completions client for OpenAI-compatible endpoints.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a completion client. A zero config gets sane defaults,
// but an API key is required to make requests.
func NewClient(cfg ClientConfig) *Client {
	cfg.defaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends one system+user exchange and returns the assistant content.
// Failures carry a typed *Error so callers can branch on kind without
// inspecting messages.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Kind: KindGeneric, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindGeneric, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Kind: KindConnection, Err: fmt.Errorf("completion request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Kind: KindConnection, Err: fmt.Errorf("read response: %w", err)}
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil && resp.StatusCode == http.StatusOK {
		return "", &Error{Kind: KindGeneric, Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		apiCode, apiMsg := "", ""
		if cr.Error != nil {
			apiCode, apiMsg = cr.Error.Code, cr.Error.Message
		}
		kind := kindForStatus(resp.StatusCode, apiCode)
		c.cfg.Logger.Warn("completion failed",
			"status", resp.StatusCode, "kind", string(kind), "api_code", apiCode)
		return "", &Error{Kind: kind,
			Err: fmt.Errorf("completion status %d: %s", resp.StatusCode, apiMsg)}
	}

	if len(cr.Choices) == 0 {
		return "", &Error{Kind: KindGeneric, Err: fmt.Errorf("completion returned no choices")}
	}

	c.cfg.Logger.Debug("completion ok",
		"model", c.cfg.Model, "duration_ms", time.Since(start).Milliseconds())
	return cr.Choices[0].Message.Content, nil
}
