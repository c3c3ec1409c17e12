package assistant

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jarvis/internal/ledger"
	"jarvis/internal/providers"
	"jarvis/internal/router"
)

type memCreds struct {
	mu sync.Mutex
	m  map[providers.Name]string
}

func newMemCreds(seed map[providers.Name]string) *memCreds {
	m := map[providers.Name]string{}
	for k, v := range seed {
		m[k] = v
	}
	return &memCreds{m: m}
}

func (c *memCreds) Set(_ context.Context, n providers.Name, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[n] = secret
	return nil
}

func (c *memCreds) Delete(_ context.Context, n providers.Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, n)
	return nil
}

func (c *memCreds) Has(n providers.Name) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[n] != ""
}

type countingProvider struct {
	name  providers.Name
	mu    sync.Mutex
	calls int
}

func (p *countingProvider) Name() providers.Name { return p.name }

func (p *countingProvider) Call(_ context.Context, utterance string, _ []ledger.Turn) providers.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return providers.Success(string(p.name) + ": " + utterance)
}

type recordingBrowser struct {
	opened []string
}

func (b *recordingBrowser) Open(_ context.Context, target string) error {
	b.opened = append(b.opened, target)
	return nil
}

type fixture struct {
	assistant *Assistant
	creds     *memCreds
	browser   *recordingBrowser
	providers map[providers.Name]*countingProvider
}

var tuesday = time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)

func newFixture(t *testing.T, seed map[providers.Name]string) fixture {
	t.Helper()
	creds := newMemCreds(seed)
	byName := map[providers.Name]*countingProvider{}
	set := map[providers.Name]providers.Provider{}
	for _, n := range providers.Priority {
		p := &countingProvider{name: n}
		byName[n] = p
		set[n] = p
	}
	r := router.New(router.Config{Providers: set, Credentials: creds, Logger: zerolog.Nop()})
	b := &recordingBrowser{}
	a := New(Config{
		Router:       r,
		Credentials:  creds,
		Browser:      b,
		Capabilities: Capabilities{SpeechOutput: true},
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return tuesday },
		Rand:         rand.New(rand.NewPCG(1, 2)),

		ChatConfigure: true,
	})
	return fixture{assistant: a, creds: creds, browser: b, providers: byName}
}

func (f fixture) totalCalls() int {
	n := 0
	for _, p := range f.providers {
		n += p.calls
	}
	return n
}

func TestSearchIsLocalAndOpensBrowser(t *testing.T) {
	f := newFixture(t, nil)
	got := f.assistant.Answer(context.Background(), "buscar gatos", "")
	if !strings.Contains(got, "gatos") || !strings.HasPrefix(got, "Buscando: gatos") {
		t.Fatalf("expected search confirmation, got %q", got)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected no provider call")
	}
	if len(f.browser.opened) != 1 || f.browser.opened[0] != "https://www.google.com/search?q=gatos" {
		t.Fatalf("unexpected browser calls %#v", f.browser.opened)
	}
}

func TestSearchWithoutTerm(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.assistant.Answer(context.Background(), "buscar", ""); got != missingTermReply {
		t.Fatalf("expected missing-term reply, got %q", got)
	}
	if len(f.browser.opened) != 0 {
		t.Fatalf("browser must not open without a term")
	}
}

func TestDateQueryAnsweredLocallyWithOpenAIConfigured(t *testing.T) {
	f := newFixture(t, map[providers.Name]string{providers.PrimaryCompletion: "k"})
	got := f.assistant.Answer(context.Background(), "¿qué día es hoy?", "")
	if got != "Hoy es martes, 05 de marzo de 2024" {
		t.Fatalf("unexpected date reply %q", got)
	}
	if f.providers[providers.PrimaryCompletion].calls != 0 {
		t.Fatalf("openai must not be called for a date query")
	}
}

func TestClassifierRunsBeforeExplicitProvider(t *testing.T) {
	f := newFixture(t, nil)
	got := f.assistant.Answer(context.Background(), "¿qué hora es?", providers.GenerativeAlt)
	if got != "Son las 14:07" {
		t.Fatalf("unexpected time reply %q", got)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected local answer")
	}
}

func TestGreetingWinsOverTime(t *testing.T) {
	f := newFixture(t, nil)
	got := f.assistant.Answer(context.Background(), "hola, dime la hora", "")
	found := false
	for _, g := range greetings {
		if got == g {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a greeting, got %q", got)
	}
}

func TestFarewellComesFromFixedSet(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 10; i++ {
		got := f.assistant.Answer(context.Background(), "adiós", "")
		ok := false
		for _, v := range farewells {
			if got == v {
				ok = true
			}
		}
		if !ok {
			t.Fatalf("unexpected farewell %q", got)
		}
	}
}

func TestUnmatchedRoutesToProvider(t *testing.T) {
	f := newFixture(t, map[providers.Name]string{providers.GenerativeAlt: "g"})
	got := f.assistant.Answer(context.Background(), "explícame la fotosíntesis", "")
	if got != "gemini: explícame la fotosíntesis" {
		t.Fatalf("unexpected answer %q", got)
	}
	if len(f.assistant.History()) != 1 {
		t.Fatalf("expected one committed turn")
	}

	got = f.assistant.Answer(context.Background(), "y en inglés", providers.FreeInference)
	if got != "huggingface: y en inglés" {
		t.Fatalf("explicit provider ignored: %q", got)
	}
}

func TestEmptyUtteranceIsNotRouted(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.assistant.Answer(context.Background(), "   ", ""); got != emptyReply {
		t.Fatalf("unexpected reply %q", got)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected no provider call")
	}
}

func TestConfigureFromChatKeepsSecretCase(t *testing.T) {
	f := newFixture(t, nil)
	got := f.assistant.Answer(context.Background(), "Configurar OpenAI sk-AbCdEf", "")
	if !strings.Contains(got, "OpenAI") {
		t.Fatalf("unexpected reply %q", got)
	}
	if f.creds.m[providers.PrimaryCompletion] != "sk-AbCdEf" {
		t.Fatalf("expected secret stored verbatim, got %q", f.creds.m[providers.PrimaryCompletion])
	}

	if got := f.assistant.Answer(context.Background(), "configurar gemini", ""); !strings.Contains(got, "configurar gemini <clave>") {
		t.Fatalf("expected key instruction, got %q", got)
	}
	if got := f.assistant.Answer(context.Background(), "configurar", ""); got != configureUsage {
		t.Fatalf("expected usage, got %q", got)
	}
	if got := f.assistant.Answer(context.Background(), "configurar claude x", ""); got != configureUsage {
		t.Fatalf("expected usage for unknown provider, got %q", got)
	}
}

func TestChatConfigureDisabledLeavesCredentialsAlone(t *testing.T) {
	f := newFixture(t, map[providers.Name]string{providers.PrimaryCompletion: "sk-owner"})
	f.assistant.chatConfigure = false

	got := f.assistant.Answer(context.Background(), "configurar openai sk-OTHER", "")
	if got != configureRemoteReply {
		t.Fatalf("expected remote configure refusal, got %q", got)
	}
	if f.creds.m[providers.PrimaryCompletion] != "sk-owner" {
		t.Fatalf("credential changed to %q", f.creds.m[providers.PrimaryCompletion])
	}
	if f.totalCalls() != 0 {
		t.Fatalf("configure request must not reach a provider")
	}
}

func TestConfigureAndStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st := f.assistant.Status()
	if st.Provider != providers.FreeInference || st.Configured {
		t.Fatalf("unexpected initial status %#v", st)
	}
	if st.Summary() != "IA gratuita activa" || !st.SpeechOutput || st.SpeechInput {
		t.Fatalf("unexpected summary or capabilities %#v", st)
	}

	if err := f.assistant.Configure(ctx, providers.GenerativeAlt, "g"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	st = f.assistant.Status()
	if st.Provider != providers.GenerativeAlt || !st.Configured || st.Summary() != "Gemini conectado" {
		t.Fatalf("unexpected status after configure %#v", st)
	}

	if err := f.assistant.Configure(ctx, providers.PrimaryCompletion, ""); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
	if err := f.assistant.Configure(ctx, "claude", "x"); !errors.Is(err, providers.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}

	if err := f.assistant.Revoke(ctx, providers.GenerativeAlt); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if st := f.assistant.Status(); st.Provider != providers.FreeInference {
		t.Fatalf("expected fallback after revoke, got %#v", st)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.assistant.Answer(ctx, "cuéntame algo", "")
	if f.assistant.Status().HistoryTurns != 1 {
		t.Fatalf("expected one turn before reset")
	}
	f.assistant.Reset()
	if f.assistant.Status().HistoryTurns != 0 {
		t.Fatalf("expected empty history after reset")
	}
}

func TestDateReplySpanishNames(t *testing.T) {
	got := dateReply(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC))
	if got != "Hoy es domingo, 31 de diciembre de 2023" {
		t.Fatalf("unexpected date %q", got)
	}
}

func TestSearchURLEncodesSpaces(t *testing.T) {
	if got := SearchURL("  gatos negros "); got != "https://www.google.com/search?q=gatos+negros" {
		t.Fatalf("unexpected url %q", got)
	}
}
