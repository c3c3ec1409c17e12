package openai_compat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jarvis/internal/ledger"
	"jarvis/internal/providers"
)

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultModel        = "gpt-3.5-turbo"
	DefaultHistoryTurns = 5
)

type Config struct {
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	HistoryTurns int
	Timeout      time.Duration
	HTTPClient   *http.Client
	Credentials  providers.Credentials
}

// Client talks to an OpenAI-compatible chat completions endpoint. History is
// sent as structured role-tagged messages.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = providers.DefaultTimeout
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Name() providers.Name { return providers.PrimaryCompletion }

func (c *Client) Call(ctx context.Context, utterance string, history []ledger.Turn) providers.Result {
	apiKey, ok := c.secret()
	if !ok {
		return providers.MissingAuth()
	}

	body, endpointURL, err := c.buildPayload(utterance, history)
	if err != nil {
		return providers.Remote(0, err.Error())
	}

	respBody, failure, ok := providers.Post(ctx, providers.Exchange{
		Client:  c.cfg.HTTPClient,
		URL:     endpointURL,
		Header:  http.Header{"Authorization": []string{"Bearer " + apiKey}},
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if !ok {
		return failure
	}

	text, err := parseChatCompletions(respBody)
	if err != nil {
		return providers.Malformed(err.Error())
	}
	return providers.Success(text)
}

func (c *Client) secret() (string, bool) {
	if c.cfg.Credentials == nil {
		return "", false
	}
	key, ok := c.cfg.Credentials.Secret(providers.PrimaryCompletion)
	if !ok || strings.TrimSpace(key) == "" {
		return "", false
	}
	return key, true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) buildPayload(utterance string, history []ledger.Turn) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	turns := providers.LastTurns(history, c.cfg.HistoryTurns)
	messages := make([]chatMessage, 0, len(turns)*2+1)
	for _, t := range turns {
		messages = append(messages,
			chatMessage{Role: "user", Content: t.Prompt},
			chatMessage{Role: "assistant", Content: t.Response},
		)
	}
	messages = append(messages, chatMessage{Role: "user", Content: utterance})

	payload := map[string]any{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	if c.cfg.MaxTokens > 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		payload["temperature"] = c.cfg.Temperature
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	if strings.TrimSpace(resp.Choices[0].Text) != "" {
		return resp.Choices[0].Text, nil
	}
	return "", fmt.Errorf("missing message content in chat completion response")
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
