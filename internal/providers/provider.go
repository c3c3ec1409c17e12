package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jarvis/internal/ledger"
)

// Name identifies a backend by the key used in the credential document.
type Name string

const (
	PrimaryCompletion Name = "openai"
	GenerativeAlt     Name = "gemini"
	FreeInference     Name = "huggingface"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Priority is the automatic selection order. FreeInference is last and needs
// no credential.
var Priority = []Name{PrimaryCompletion, GenerativeAlt, FreeInference}

// ParseName maps user input ("OpenAI", " gemini ") onto a Name.
func ParseName(v string) (Name, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "openai", "gpt", "chatgpt":
		return PrimaryCompletion, nil
	case "gemini", "google":
		return GenerativeAlt, nil
	case "huggingface", "hugging-face", "hf":
		return FreeInference, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownProvider, v)
	}
}

func (n Name) Valid() bool {
	switch n {
	case PrimaryCompletion, GenerativeAlt, FreeInference:
		return true
	}
	return false
}

// RequiresCredential reports whether calls fail with AuthMissing when no
// secret is configured.
func (n Name) RequiresCredential() bool {
	return n == PrimaryCompletion || n == GenerativeAlt
}

// DisplayName is the human-facing label used in replies.
func (n Name) DisplayName() string {
	switch n {
	case PrimaryCompletion:
		return "OpenAI"
	case GenerativeAlt:
		return "Gemini"
	case FreeInference:
		return "Hugging Face"
	default:
		return string(n)
	}
}

// Credentials is the read side of the credential store seen by adapters.
type Credentials interface {
	Secret(name Name) (string, bool)
}

// Provider turns an utterance plus a read-only history view into a Result.
// Implementations make exactly one attempt per call.
type Provider interface {
	Name() Name
	Call(ctx context.Context, utterance string, history []ledger.Turn) Result
}

// LastTurns returns at most n of the newest turns in history.
func LastTurns(history []ledger.Turn, n int) []ledger.Turn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
