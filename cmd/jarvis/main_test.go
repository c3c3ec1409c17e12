package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"jarvis/internal/assistant"
	"jarvis/internal/providers"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSanitizeTelegramErr(t *testing.T) {
	token := "123456:ABCDEF"
	err := errors.New("Post https://api.telegram.org/bot123456:ABCDEF/getMe: timeout")
	got := sanitizeTelegramErr(err, token)
	if strings.Contains(got, "ABCDEF") || strings.Contains(got, "123456") {
		t.Fatalf("token leaked: %q", got)
	}
	if sanitizeTelegramErr(nil, token) != "" {
		t.Fatalf("expected empty string for nil error")
	}
}

type scriptedAnswerer struct {
	seen []string
}

func (s *scriptedAnswerer) Answer(_ context.Context, utterance string, explicit providers.Name) string {
	s.seen = append(s.seen, utterance+"|"+string(explicit))
	return "eco: " + utterance
}

func (s *scriptedAnswerer) Status() assistant.Status {
	return assistant.Status{Provider: providers.FreeInference}
}

func TestREPLStopsOnSalir(t *testing.T) {
	a := &scriptedAnswerer{}
	var out strings.Builder
	in := strings.NewReader("hola\n\n  cuéntame algo \nSALIR\nno llega\n")
	if err := runREPL(context.Background(), a, providers.GenerativeAlt, in, &out); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if len(a.seen) != 2 || a.seen[0] != "hola|gemini" || a.seen[1] != "cuéntame algo|gemini" {
		t.Fatalf("unexpected utterances %#v", a.seen)
	}
	if !strings.Contains(out.String(), "eco: cuéntame algo") {
		t.Fatalf("missing reply in output %q", out.String())
	}
}

func TestParseProviderFlag(t *testing.T) {
	if n, err := parseProviderFlag(""); err != nil || n != "" {
		t.Fatalf("expected empty provider, got %q %v", n, err)
	}
	if n, err := parseProviderFlag("Gemini"); err != nil || n != providers.GenerativeAlt {
		t.Fatalf("expected gemini, got %q %v", n, err)
	}
	if _, err := parseProviderFlag("claude"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
