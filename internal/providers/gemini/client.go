package gemini

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
	DefaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel        = "gemini-pro"
	DefaultHistoryTurns = 3

	userLabel      = "Usuario"
	assistantLabel = "Asistente"
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

// Client calls the generateContent endpoint. History is flattened into a
// single text block that ends with an assistant cue.
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

func (c *Client) Name() providers.Name { return providers.GenerativeAlt }

func (c *Client) Call(ctx context.Context, utterance string, history []ledger.Turn) providers.Result {
	apiKey, ok := c.secret()
	if !ok {
		return providers.MissingAuth()
	}

	endpointURL, err := c.buildEndpointURL(apiKey)
	if err != nil {
		return providers.Remote(0, err.Error())
	}
	body, err := json.Marshal(c.buildRequest(utterance, history))
	if err != nil {
		return providers.Remote(0, fmt.Sprintf("marshal generate request: %v", err))
	}

	respBody, failure, ok := providers.Post(ctx, providers.Exchange{
		Client:  c.cfg.HTTPClient,
		URL:     endpointURL,
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if !ok {
		return failure
	}

	text, err := parseGenerateResponse(respBody)
	if err != nil {
		return providers.Malformed(err.Error())
	}
	return providers.Success(text)
}

func (c *Client) secret() (string, bool) {
	if c.cfg.Credentials == nil {
		return "", false
	}
	key, ok := c.cfg.Credentials.Secret(providers.GenerativeAlt)
	if !ok || strings.TrimSpace(key) == "" {
		return "", false
	}
	return key, true
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

func (c *Client) buildRequest(utterance string, history []ledger.Turn) generateRequest {
	return generateRequest{
		Contents: []content{{Parts: []part{{Text: flatten(utterance, providers.LastTurns(history, c.cfg.HistoryTurns))}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxTokens,
		},
	}
}

// flatten renders history as labelled lines followed by the new utterance and
// a trailing assistant cue.
func flatten(utterance string, turns []ledger.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n%s: %s\n\n", userLabel, t.Prompt, assistantLabel, t.Response)
	}
	fmt.Fprintf(&b, "%s: %s\n%s:", userLabel, utterance, assistantLabel)
	return b.String()
}

func (c *Client) buildEndpointURL(apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.cfg.BaseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/models/" + c.cfg.Model + ":generateContent"
	q := u.Query()
	q.Set("key", apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseGenerateResponse(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []part `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in generate response")
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 || strings.TrimSpace(parts[0].Text) == "" {
		return "", fmt.Errorf("missing text in generate response")
	}
	return parts[0].Text, nil
}
