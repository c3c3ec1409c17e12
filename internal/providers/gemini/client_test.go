package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jarvis/internal/ledger"
	"jarvis/internal/providers"
)

type staticCreds map[providers.Name]string

func (s staticCreds) Secret(n providers.Name) (string, bool) {
	v, ok := s[n]
	return v, ok
}

func TestFlattenKeepsLastTurnsAndCue(t *testing.T) {
	c := New(Config{})
	turns := []ledger.Turn{
		{Prompt: "uno", Response: "1"},
		{Prompt: "dos", Response: "2"},
		{Prompt: "tres", Response: "3"},
		{Prompt: "cuatro", Response: "4"},
	}
	req := c.buildRequest("cinco?", turns)
	text := req.Contents[0].Parts[0].Text

	if strings.Contains(text, "uno") {
		t.Fatalf("expected only the last 3 turns, got %q", text)
	}
	want := "Usuario: dos\nAsistente: 2\n\nUsuario: tres\nAsistente: 3\n\nUsuario: cuatro\nAsistente: 4\n\nUsuario: cinco?\nAsistente:"
	if text != want {
		t.Fatalf("unexpected flattened prompt:\n%q\nwant\n%q", text, want)
	}
}

func TestCallSendsKeyInQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-pro:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("expected key query param")
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("gemini must not send a bearer header")
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.GenerationConfig.MaxOutputTokens != 500 {
			t.Errorf("unexpected generation config %#v", req.GenerationConfig)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"claro"}]}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1beta", MaxTokens: 500, Temperature: 0.7, Credentials: staticCreds{providers.GenerativeAlt: "g-key"}})
	res := c.Call(context.Background(), "hola", nil)
	if !res.OK() || res.Text != "claro" {
		t.Fatalf("unexpected result %s", res)
	}
}

func TestCallWithoutKey(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1", Credentials: staticCreds{providers.GenerativeAlt: "  "}})
	if res := c.Call(context.Background(), "hola", nil); res.Kind != providers.KindAuthMissing {
		t.Fatalf("expected auth missing, got %s", res)
	}
}

func TestCallMalformed(t *testing.T) {
	for _, body := range []string{`{}`, `{"candidates":[]}`, `{"candidates":[{"content":{"parts":[]}}]}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		c := New(Config{BaseURL: srv.URL, Credentials: staticCreds{providers.GenerativeAlt: "k"}})
		if res := c.Call(context.Background(), "hola", nil); res.Kind != providers.KindMalformed {
			t.Fatalf("body %s: expected malformed, got %s", body, res)
		}
		srv.Close()
	}
}

func TestCallRemoteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Credentials: staticCreds{providers.GenerativeAlt: "k"}})
	res := c.Call(context.Background(), "hola", nil)
	if res.Kind != providers.KindRemoteError || res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 remote error, got %s", res)
	}
}
