package registry

import (
	"fmt"
	"net/http"
	"time"

	"jarvis/internal/providers"
	"jarvis/internal/providers/gemini"
	"jarvis/internal/providers/huggingface"
	"jarvis/internal/providers/openai_compat"
)

// Endpoint holds the per-backend knobs exposed through configuration.
type Endpoint struct {
	BaseURL      string
	Model        string
	HistoryTurns int
}

type BuildOptions struct {
	OpenAI      Endpoint
	Gemini      Endpoint
	HuggingFace Endpoint
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials providers.Credentials
}

// Set is the full adapter table keyed by provider name.
type Set map[providers.Name]providers.Provider

// BuildAll constructs one adapter per known provider.
func BuildAll(opts BuildOptions) Set {
	out := make(Set, len(providers.Priority))
	for _, name := range providers.Priority {
		p, _ := Build(name, opts)
		out[name] = p
	}
	return out
}

func Build(name providers.Name, opts BuildOptions) (providers.Provider, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	switch name {
	case providers.PrimaryCompletion:
		return openai_compat.New(openai_compat.Config{
			BaseURL:      opts.OpenAI.BaseURL,
			Model:        opts.OpenAI.Model,
			HistoryTurns: opts.OpenAI.HistoryTurns,
			MaxTokens:    opts.MaxTokens,
			Temperature:  opts.Temperature,
			Timeout:      opts.Timeout,
			HTTPClient:   opts.HTTPClient,
			Credentials:  opts.Credentials,
		}), nil

	case providers.GenerativeAlt:
		return gemini.New(gemini.Config{
			BaseURL:      opts.Gemini.BaseURL,
			Model:        opts.Gemini.Model,
			HistoryTurns: opts.Gemini.HistoryTurns,
			MaxTokens:    opts.MaxTokens,
			Temperature:  opts.Temperature,
			Timeout:      opts.Timeout,
			HTTPClient:   opts.HTTPClient,
			Credentials:  opts.Credentials,
		}), nil

	case providers.FreeInference:
		return huggingface.New(huggingface.Config{
			BaseURL:     opts.HuggingFace.BaseURL,
			Model:       opts.HuggingFace.Model,
			Timeout:     opts.Timeout,
			HTTPClient:  opts.HTTPClient,
			Credentials: opts.Credentials,
		}), nil

	default:
		return nil, fmt.Errorf("%w %q", providers.ErrUnknownProvider, name)
	}
}
