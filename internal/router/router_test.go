package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jarvis/internal/ledger"
	"jarvis/internal/providers"
	"jarvis/internal/providers/huggingface"
)

type credSet map[providers.Name]bool

func (c credSet) Has(n providers.Name) bool { return c[n] }

// scripted replays results in order and records every history view it saw.
type scripted struct {
	name    providers.Name
	mu      sync.Mutex
	results []providers.Result
	calls   int
	seen    [][]ledger.Turn
}

func (s *scripted) Name() providers.Name { return s.name }

func (s *scripted) Call(_ context.Context, utterance string, history []ledger.Turn) providers.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, history)
	s.calls++
	if len(s.results) == 0 {
		return providers.Success("echo: " + utterance)
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func fakes() (map[providers.Name]providers.Provider, map[providers.Name]*scripted) {
	byName := map[providers.Name]*scripted{}
	set := map[providers.Name]providers.Provider{}
	for _, n := range providers.Priority {
		s := &scripted{name: n}
		byName[n] = s
		set[n] = s
	}
	return set, byName
}

type memJournal struct {
	mu    sync.Mutex
	turns []ledger.Turn
	err   error
}

func (j *memJournal) RecordTurn(_ context.Context, _ string, t ledger.Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.turns = append(j.turns, t)
	return nil
}

func TestSelectIsPureFunctionOfCredentials(t *testing.T) {
	set, _ := fakes()
	cases := []struct {
		name     string
		creds    credSet
		explicit providers.Name
		want     providers.Name
	}{
		{name: "empty", creds: credSet{}, want: providers.FreeInference},
		{name: "openai", creds: credSet{providers.PrimaryCompletion: true}, want: providers.PrimaryCompletion},
		{name: "gemini", creds: credSet{providers.GenerativeAlt: true}, want: providers.GenerativeAlt},
		{name: "both", creds: credSet{providers.PrimaryCompletion: true, providers.GenerativeAlt: true}, want: providers.PrimaryCompletion},
		{name: "hf only", creds: credSet{providers.FreeInference: true}, want: providers.FreeInference},
		{name: "explicit wins", creds: credSet{providers.PrimaryCompletion: true}, explicit: providers.GenerativeAlt, want: providers.GenerativeAlt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New(Config{Providers: set, Credentials: tc.creds, Logger: zerolog.Nop()})
			for i := 0; i < 5; i++ {
				got, err := r.Select(tc.explicit)
				if err != nil {
					t.Fatalf("select: %v", err)
				}
				if got != tc.want {
					t.Fatalf("call %d: expected %s, got %s", i, tc.want, got)
				}
			}
		})
	}
}

func TestSelectUnknownExplicit(t *testing.T) {
	set, _ := fakes()
	r := New(Config{Providers: set, Logger: zerolog.Nop()})
	if _, err := r.Select("claude"); !errors.Is(err, providers.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	got := r.Answer(context.Background(), "hola", "claude")
	if !strings.HasPrefix(got, PrefixUnknownProvider) {
		t.Fatalf("expected unknown-provider diagnostic, got %q", got)
	}
}

func TestExplicitProviderWithoutCredentialReportsAuthMissing(t *testing.T) {
	set, byName := fakes()
	byName[providers.PrimaryCompletion].results = []providers.Result{providers.MissingAuth()}
	r := New(Config{Providers: set, Credentials: credSet{}, Logger: zerolog.Nop()})

	got := r.Answer(context.Background(), "hola", providers.PrimaryCompletion)
	if !strings.HasPrefix(got, PrefixAuthMissing) {
		t.Fatalf("expected auth-missing diagnostic, got %q", got)
	}
	if !strings.Contains(got, "configurar openai") {
		t.Fatalf("expected configure instruction, got %q", got)
	}
}

func TestFailureNeverTouchesLedger(t *testing.T) {
	failures := []providers.Result{
		providers.MissingAuth(),
		providers.TimedOut(),
		providers.Remote(503, "unavailable"),
		providers.Remote(0, "connection refused"),
		providers.Malformed("missing choices"),
	}
	prefixes := []string{PrefixAuthMissing, PrefixTimeout, PrefixRemoteError, PrefixRemoteError, PrefixMalformed}

	set, byName := fakes()
	l := ledger.New(10)
	r := New(Config{Providers: set, Credentials: credSet{}, Ledger: l, Logger: zerolog.Nop()})
	ctx := context.Background()

	if got := r.Answer(ctx, "primero", ""); got != "echo: primero" {
		t.Fatalf("unexpected first answer %q", got)
	}
	before := l.Snapshot()

	byName[providers.FreeInference].results = failures
	for i := range failures {
		got := r.Answer(ctx, fmt.Sprintf("fallo %d", i), "")
		if !strings.HasPrefix(got, prefixes[i]) {
			t.Fatalf("failure %d: expected prefix %s, got %q", i, prefixes[i], got)
		}
		after := l.Snapshot()
		if len(after) != len(before) || after[0] != before[0] {
			t.Fatalf("failure %d changed the ledger: %#v", i, after)
		}
	}
}

func TestRemoteDiagnosticSurfacesCode(t *testing.T) {
	got := Diagnostic(providers.GenerativeAlt, providers.Remote(429, "quota"))
	if !strings.Contains(got, "429") || !strings.Contains(got, "Gemini") {
		t.Fatalf("expected provider and code in %q", got)
	}
}

func TestLedgerEvictsOldestAtCapacity(t *testing.T) {
	set, _ := fakes()
	l := ledger.New(10)
	r := New(Config{Providers: set, Credentials: credSet{}, Ledger: l, Logger: zerolog.Nop()})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r.Answer(ctx, fmt.Sprintf("p%d", i), "")
	}
	if l.Len() != 10 {
		t.Fatalf("expected full ledger, got %d", l.Len())
	}
	r.Answer(ctx, "p10", "")

	got := r.History()
	if len(got) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(got))
	}
	for i, turn := range got {
		want := fmt.Sprintf("p%d", i+1)
		if turn.Prompt != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, turn.Prompt)
		}
	}
}

func TestCommitUsesClockAndJournals(t *testing.T) {
	set, byName := fakes()
	at := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	j := &memJournal{}
	r := New(Config{
		Providers:   set,
		Credentials: credSet{providers.GenerativeAlt: true},
		Journal:     j,
		Logger:      zerolog.Nop(),
		Now:         func() time.Time { return at },
	})
	ctx := context.Background()

	r.Answer(ctx, "uno", "")
	r.Answer(ctx, "dos", "")

	calls := byName[providers.GenerativeAlt].seen
	if len(calls) != 2 || len(calls[0]) != 0 || len(calls[1]) != 1 {
		t.Fatalf("expected second call to see one turn of history, got %#v", calls)
	}
	if len(j.turns) != 2 || !j.turns[1].Timestamp.Equal(at) {
		t.Fatalf("unexpected journal %#v", j.turns)
	}
}

func TestJournalFailureDoesNotFailTurn(t *testing.T) {
	set, _ := fakes()
	r := New(Config{Providers: set, Journal: &memJournal{err: errors.New("disk full")}, Logger: zerolog.Nop()})
	if got := r.Answer(context.Background(), "hola", ""); got != "echo: hola" {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(r.History()) != 1 {
		t.Fatalf("expected turn committed despite journal failure")
	}
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	set, _ := fakes()
	l := ledger.New(100)
	r := New(Config{Providers: set, Ledger: l, Logger: zerolog.Nop()})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Answer(context.Background(), fmt.Sprintf("q%d", i), "")
		}(i)
	}
	wg.Wait()
	if l.Len() != 50 {
		t.Fatalf("expected 50 turns, got %d", l.Len())
	}
}

func TestResetClearsLedger(t *testing.T) {
	set, _ := fakes()
	r := New(Config{Providers: set, Logger: zerolog.Nop()})
	r.Answer(context.Background(), "hola", "")
	r.Reset()
	if len(r.History()) != 0 {
		t.Fatalf("expected empty history after reset")
	}
}

func TestFreeInferenceTimeoutLeavesLedgerUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	hf := huggingface.New(huggingface.Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})
	l := ledger.New(10)
	r := New(Config{
		Providers:   map[providers.Name]providers.Provider{providers.FreeInference: hf},
		Credentials: credSet{},
		Ledger:      l,
		Logger:      zerolog.Nop(),
	})

	name, err := r.Select("")
	if err != nil || name != providers.FreeInference {
		t.Fatalf("expected free inference, got %s %v", name, err)
	}
	got := r.Answer(context.Background(), "cuéntame un chiste", "")
	if !strings.HasPrefix(got, PrefixTimeout) {
		t.Fatalf("expected timeout diagnostic, got %q", got)
	}
	if l.Len() != 0 {
		t.Fatalf("ledger changed after timeout")
	}
}
