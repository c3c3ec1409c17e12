package huggingface

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
	DefaultBaseURL = "https://api-inference.huggingface.co/models"
	DefaultModel   = "microsoft/DialoGPT-medium"
)

type Config struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials providers.Credentials
}

// Client calls the free inference API. It is stateless: only the raw
// utterance is sent and history is ignored.
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
	if cfg.Timeout <= 0 {
		cfg.Timeout = providers.DefaultTimeout
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Name() providers.Name { return providers.FreeInference }

func (c *Client) Call(ctx context.Context, utterance string, _ []ledger.Turn) providers.Result {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return providers.Remote(0, err.Error())
	}
	body, err := json.Marshal(map[string]string{"inputs": utterance})
	if err != nil {
		return providers.Remote(0, fmt.Sprintf("marshal inference payload: %v", err))
	}

	header := http.Header{}
	if c.cfg.Credentials != nil {
		if key, ok := c.cfg.Credentials.Secret(providers.FreeInference); ok && strings.TrimSpace(key) != "" {
			header.Set("Authorization", "Bearer "+key)
		}
	}

	respBody, failure, ok := providers.Post(ctx, providers.Exchange{
		Client:  c.cfg.HTTPClient,
		URL:     endpointURL,
		Header:  header,
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if !ok {
		return failure
	}

	generated, err := extractGenerated(respBody)
	if err != nil {
		return providers.Malformed(err.Error())
	}
	text := StripEcho(generated, utterance)
	if text == "" {
		return providers.Malformed("generated text only echoed the input")
	}
	return providers.Success(text)
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Trim(c.cfg.Model, "/")
	return u.String(), nil
}

// StripEcho removes every copy of the prompt from the generated text and
// trims the remainder. Plain substring removal: a completion that legitimately
// quotes the prompt loses that quote too.
func StripEcho(generated, utterance string) string {
	if utterance != "" {
		generated = strings.ReplaceAll(generated, utterance, "")
	}
	return strings.TrimSpace(generated)
}

func extractGenerated(body []byte) (string, error) {
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if len(list) == 0 {
		return "", fmt.Errorf("empty inference response")
	}
	text, ok := list[0]["generated_text"].(string)
	if !ok {
		return "", fmt.Errorf("inference response does not contain generated_text")
	}
	return text, nil
}
