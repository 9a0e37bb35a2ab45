// Package llm is a provider-agnostic text generation client used for the
// semantic content diff.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider names a generation backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
	ProviderCustom Provider = "custom"
	ProviderEino   Provider = "eino"
)

// Prompt is one system + user message exchange.
type Prompt struct {
	System string
	User   string
}

// Generator produces a completion for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

// StatusError is a non-2xx response from an LLM endpoint.
type StatusError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Provider    Provider
	Endpoint    string // e.g. "http://localhost:11434" for Ollama
	Model       string // e.g. "llama3", "gpt-4o-mini"
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// HTTPClient talks to Ollama, OpenAI-compatible or custom JSON endpoints
// over plain HTTP.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates an HTTP-backed generator.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "llm_client", "provider", string(cfg.Provider)),
	}
}

// Name implements Generator.
func (c *HTTPClient) Name() string { return string(c.cfg.Provider) }

// Generate implements Generator.
func (c *HTTPClient) Generate(ctx context.Context, p Prompt) (string, error) {
	switch c.cfg.Provider {
	case ProviderOllama:
		return c.generateOllama(ctx, p)
	case ProviderOpenAI:
		return c.generateOpenAI(ctx, p)
	case ProviderCustom:
		return c.generateCustom(ctx, p)
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", c.cfg.Provider)
	}
}

func (c *HTTPClient) generateOllama(ctx context.Context, p Prompt) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	payload := map[string]any{
		"model":  c.cfg.Model,
		"system": p.System,
		"prompt": p.User,
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": c.cfg.MaxTokens,
		},
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, strings.TrimRight(endpoint, "/")+"/api/generate", payload, &result); err != nil {
		return "", err
	}
	return result.Response, nil
}

func (c *HTTPClient) generateOpenAI(ctx context.Context, p Prompt) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	messages := []map[string]string{}
	if p.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": p.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": p.User})

	payload := map[string]any{
		"model":       c.cfg.Model,
		"messages":    messages,
		"temperature": c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, strings.TrimRight(endpoint, "/")+"/chat/completions", payload, &result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return result.Choices[0].Message.Content, nil
}

// generateCustom posts {prompt, system, model} and returns the raw body.
func (c *HTTPClient) generateCustom(ctx context.Context, p Prompt) (string, error) {
	payload := map[string]any{
		"prompt": p.User,
		"system": p.System,
		"model":  c.cfg.Model,
	}
	var raw json.RawMessage
	if err := c.post(ctx, c.cfg.Endpoint, payload, &raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// post sends payload as JSON and decodes the response into out. A
// *json.RawMessage out receives the body verbatim.
func (c *HTTPClient) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.cfg.Provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.cfg.Provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return &StatusError{Provider: c.cfg.Provider, StatusCode: resp.StatusCode, Body: snippet}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		*raw = respBody
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.cfg.Provider, err)
	}
	return nil
}
