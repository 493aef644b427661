package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/kiliankoe/doublecross/internal/ai"
)

const defaultSystemPrompt = "You are a concise co-author. Reply only in the requested format."

type Client struct {
	Host string
	// SystemPrompt is used when a call brings none.
	SystemPrompt string
	client       *api.Client
}

func New(host string, timeout time.Duration) (*Client, error) {
	if host == "" {
		host = "http://localhost:11434"
	}
	host = strings.TrimSuffix(strings.TrimRight(host, "/"), "/v1")
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{Host: host, SystemPrompt: defaultSystemPrompt, client: api.NewClient(u, &http.Client{Timeout: timeout})}, nil
}

func (c *Client) Complete(ctx context.Context, model string, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, model, "", prompt)
}

func (c *Client) CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error) {
	if systemPrompt == "" {
		systemPrompt = c.SystemPrompt
	}
	stream := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	}
	var last api.ChatResponse
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		last = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	out := strings.TrimSpace(last.Message.Content)
	if out == "" {
		return "", fmt.Errorf("ollama: %w", ai.ErrEmptyCompletion)
	}
	return out, nil
}
