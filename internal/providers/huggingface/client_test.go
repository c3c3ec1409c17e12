package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"jarvis/internal/ledger"
	"jarvis/internal/providers"
)

type staticCreds map[providers.Name]string

func (s staticCreds) Secret(n providers.Name) (string, bool) {
	v, ok := s[n]
	return v, ok
}

func TestStripEcho(t *testing.T) {
	cases := []struct {
		generated, utterance, want string
	}{
		{"hola amigo ¿qué tal?", "hola amigo", "¿qué tal?"},
		{"sin eco", "hola", "sin eco"},
		{"hola", "hola", ""},
		// Known over-strip: the prompt text inside the answer is removed too.
		{"di gato: gato", "gato", "di :"},
	}
	for _, tc := range cases {
		if got := StripEcho(tc.generated, tc.utterance); got != tc.want {
			t.Fatalf("StripEcho(%q, %q) = %q, want %q", tc.generated, tc.utterance, got, tc.want)
		}
	}
}

func TestCallSendsRawUtteranceOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/microsoft/DialoGPT-medium" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("no credential configured, expected no auth header")
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if len(payload) != 1 || payload["inputs"] != "cuéntame algo" {
			t.Errorf("unexpected payload %#v", payload)
		}
		_, _ = w.Write([]byte(`[{"generated_text":"cuéntame algo  Había una vez un gato."}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/models", Credentials: staticCreds{}})
	res := c.Call(context.Background(), "cuéntame algo", []ledger.Turn{{Prompt: "x", Response: "y"}})
	if !res.OK() || res.Text != "Había una vez un gato." {
		t.Fatalf("unexpected result %s %q", res, res.Text)
	}
}

func TestCallUsesOptionalBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf_token" {
			t.Errorf("expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`[{"generated_text":"ok"}]`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Credentials: staticCreds{providers.FreeInference: "hf_token"}})
	if res := c.Call(context.Background(), "hola", nil); !res.OK() {
		t.Fatalf("unexpected result %s", res)
	}
}

func TestCallMalformedResponses(t *testing.T) {
	for _, body := range []string{`{"error":"loading"}`, `[]`, `[{"label":"x"}]`, `[{"generated_text":"  repite  "}]`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := New(Config{BaseURL: srv.URL})
		if res := c.Call(context.Background(), "repite", nil); res.Kind != providers.KindMalformed {
			t.Fatalf("body %s: expected malformed, got %s", body, res)
		}
		srv.Close()
	}
}

func TestCallServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res := c.Call(context.Background(), "hola", nil)
	if res.Kind != providers.KindRemoteError || res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %s", res)
	}
	if res.Detail != `{"error":"Model is currently loading"}` {
		t.Fatalf("unexpected detail %q", res.Detail)
	}
}
