package assistant

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jarvis/internal/intent"
	"jarvis/internal/ledger"
	"jarvis/internal/metrics"
	"jarvis/internal/providers"
)

// Router is the provider side of a turn.
type Router interface {
	Answer(ctx context.Context, utterance string, explicit providers.Name) string
	Select(explicit providers.Name) (providers.Name, error)
	Reset()
	History() []ledger.Turn
}

// CredentialStore is the write side used by Configure and Revoke.
type CredentialStore interface {
	Set(ctx context.Context, name providers.Name, secret string) error
	Delete(ctx context.Context, name providers.Name) error
	Has(name providers.Name) bool
}

// Capabilities are resolved once at startup and only reported.
type Capabilities struct {
	SpeechInput  bool
	SpeechOutput bool
}

type Config struct {
	Router       Router
	Credentials  CredentialStore
	Browser      Browser
	Capabilities Capabilities
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
	// Rand picks greeting and farewell variants. Seed it in tests.
	Rand *rand.Rand
	// ChatConfigure lets "configurar <proveedor> <clave>" store a key. Only
	// the local terminal sets it; remote surfaces have their own guarded
	// configure paths.
	ChatConfigure bool
}

// Assistant is the contract UI surfaces call: local commands first, then the
// provider router.
type Assistant struct {
	router  Router
	creds   CredentialStore
	browser Browser
	caps    Capabilities
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	chatConfigure bool

	randMu sync.Mutex
	rand   *rand.Rand
}

func New(cfg Config) *Assistant {
	if cfg.Browser == nil {
		cfg.Browser = NoopBrowser{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6a61727669730a))
	}
	return &Assistant{
		router:  cfg.Router,
		creds:   cfg.Credentials,
		browser: cfg.Browser,
		caps:    cfg.Capabilities,
		logger:  cfg.Logger.With().Str("component", "assistant").Logger(),
		metrics: cfg.Metrics,
		now:     cfg.Now,
		rand:    cfg.Rand,

		chatConfigure: cfg.ChatConfigure,
	}
}

// Answer replies to one utterance. It never fails; provider failures come
// back as prefixed diagnostics.
func (a *Assistant) Answer(ctx context.Context, utterance string, explicit providers.Name) string {
	if strings.TrimSpace(utterance) == "" {
		a.countTurn("local")
		return emptyReply
	}
	in := intent.Classify(utterance)
	if in.Local() {
		a.countTurn("local")
		a.logger.Debug().Str("intent", in.Kind.String()).Msg("answered locally")
		return a.local(ctx, in, utterance)
	}
	a.countTurn("provider")
	return a.router.Answer(ctx, utterance, explicit)
}

func (a *Assistant) local(ctx context.Context, in intent.Intent, raw string) string {
	switch in.Kind {
	case intent.ConfigureRequest:
		return a.configureFromChat(ctx, in, raw)
	case intent.Greeting:
		return a.pick(greetings)
	case intent.TimeQuery:
		return timeReply(a.now())
	case intent.DateQuery:
		return dateReply(a.now())
	case intent.OpenBrowser:
		a.open(ctx, homeURL)
		return browserReply
	case intent.Search:
		if in.MissingTerm() {
			return missingTermReply
		}
		a.open(ctx, SearchURL(in.Term))
		return searchReply(in.Term)
	case intent.Farewell:
		return a.pick(farewells)
	case intent.Help:
		return helpText
	default:
		return emptyReply
	}
}

// configureFromChat handles "configurar <provider> [secret]". The secret is
// taken from the raw utterance since normalisation folds case.
func (a *Assistant) configureFromChat(ctx context.Context, in intent.Intent, raw string) string {
	if !a.chatConfigure {
		return configureRemoteReply
	}
	if in.Provider == "" {
		return configureUsage
	}
	name, err := providers.ParseName(in.Provider)
	if err != nil {
		return configureUsage
	}
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return fmt.Sprintf(configureNeedsKey, name.DisplayName(), name)
	}
	if err := a.Configure(ctx, name, fields[2]); err != nil {
		return fmt.Sprintf(configureFailedFmt, name.DisplayName(), err)
	}
	current := a.Status().Provider
	return fmt.Sprintf(configureSavedFmt, name.DisplayName(), current.DisplayName())
}

func (a *Assistant) open(ctx context.Context, target string) {
	if err := a.browser.Open(ctx, target); err != nil {
		a.logger.Warn().Err(err).Msg("failed to open browser")
	}
}

func (a *Assistant) pick(options []string) string {
	a.randMu.Lock()
	defer a.randMu.Unlock()
	return options[a.rand.IntN(len(options))]
}

func (a *Assistant) countTurn(route string) {
	if a.metrics != nil {
		a.metrics.Turns.WithLabelValues(route).Inc()
	}
}

// Configure stores secret for name. Empty secrets and unknown providers are
// rejected.
func (a *Assistant) Configure(ctx context.Context, name providers.Name, secret string) error {
	if !name.Valid() {
		return fmt.Errorf("%w %q", providers.ErrUnknownProvider, name)
	}
	if err := a.creds.Set(ctx, name, secret); err != nil {
		return fmt.Errorf("configure %s: %w", name, err)
	}
	return nil
}

// Revoke removes the credential for name.
func (a *Assistant) Revoke(ctx context.Context, name providers.Name) error {
	if !name.Valid() {
		return fmt.Errorf("%w %q", providers.ErrUnknownProvider, name)
	}
	if err := a.creds.Delete(ctx, name); err != nil {
		return fmt.Errorf("revoke %s: %w", name, err)
	}
	return nil
}

// Status describes the provider an unqualified turn would use right now.
type Status struct {
	Provider     providers.Name `json:"provider"`
	Configured   bool           `json:"configured"`
	SpeechInput  bool           `json:"speech_input"`
	SpeechOutput bool           `json:"speech_output"`
	HistoryTurns int            `json:"history_turns"`
}

func (a *Assistant) Status() Status {
	name, err := a.router.Select("")
	if err != nil {
		a.logger.Warn().Err(err).Msg("no provider selectable")
	}
	return Status{
		Provider:     name,
		Configured:   name != "" && a.creds.Has(name),
		SpeechInput:  a.caps.SpeechInput,
		SpeechOutput: a.caps.SpeechOutput,
		HistoryTurns: len(a.router.History()),
	}
}

// Summary is the one-line status label shown by the UIs.
func (s Status) Summary() string {
	switch s.Provider {
	case providers.PrimaryCompletion:
		return "OpenAI conectado"
	case providers.GenerativeAlt:
		return "Gemini conectado"
	case providers.FreeInference:
		return "IA gratuita activa"
	default:
		return "Sin proveedor disponible"
	}
}

func (a *Assistant) Reset() {
	a.router.Reset()
}

func (a *Assistant) History() []ledger.Turn {
	return a.router.History()
}
