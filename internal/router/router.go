package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jarvis/internal/ledger"
	"jarvis/internal/metrics"
	"jarvis/internal/providers"
)

// Diagnostic prefixes. Callers may match on these; the prose after them is
// free to change.
const (
	PrefixAuthMissing     = "[auth-missing]"
	PrefixTimeout         = "[timeout]"
	PrefixRemoteError     = "[remote-error]"
	PrefixMalformed       = "[malformed]"
	PrefixUnknownProvider = "[unknown-provider]"
)

// CredentialSource answers whether a provider has a usable secret.
type CredentialSource interface {
	Has(name providers.Name) bool
}

// Journal persists committed turns. Failures are logged, never surfaced.
type Journal interface {
	RecordTurn(ctx context.Context, provider string, t ledger.Turn) error
}

type Config struct {
	Providers   map[providers.Name]providers.Provider
	Credentials CredentialSource
	Ledger      *ledger.Ledger
	Journal     Journal
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Router owns the conversation ledger and runs one provider call per turn.
// The mutex covers snapshot, call and commit so turns never interleave.
type Router struct {
	mu        sync.Mutex
	providers map[providers.Name]providers.Provider
	creds     CredentialSource
	ledger    *ledger.Ledger
	journal   Journal
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg Config) *Router {
	if cfg.Ledger == nil {
		cfg.Ledger = ledger.New(ledger.DefaultCapacity)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	set := make(map[providers.Name]providers.Provider, len(cfg.Providers))
	for k, v := range cfg.Providers {
		set[k] = v
	}
	return &Router{
		providers: set,
		creds:     cfg.Credentials,
		ledger:    cfg.Ledger,
		journal:   cfg.Journal,
		logger:    cfg.Logger.With().Str("component", "router").Logger(),
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
}

// Select resolves the provider for a turn. An explicit name wins; otherwise
// the first credentialed provider in priority order, with FreeInference as the
// fallback since it needs no credential.
func (r *Router) Select(explicit providers.Name) (providers.Name, error) {
	if explicit != "" {
		if _, ok := r.providers[explicit]; !ok || !explicit.Valid() {
			return "", fmt.Errorf("%w %q", providers.ErrUnknownProvider, explicit)
		}
		return explicit, nil
	}
	for _, name := range providers.Priority {
		if _, ok := r.providers[name]; !ok {
			continue
		}
		if !name.RequiresCredential() || r.has(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no provider registered", providers.ErrUnknownProvider)
}

func (r *Router) has(name providers.Name) bool {
	return r.creds != nil && r.creds.Has(name)
}

// Route performs one turn and returns the raw result. The ledger is updated
// only when the result is OK. The error is non-nil only when no provider could
// be selected.
func (r *Router) Route(ctx context.Context, utterance string, explicit providers.Name) (providers.Name, providers.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, err := r.Select(explicit)
	if err != nil {
		return explicit, providers.Result{}, err
	}
	p := r.providers[name]
	history := r.ledger.Snapshot()

	start := time.Now()
	res := p.Call(ctx, utterance, history)
	elapsed := time.Since(start)

	log := r.logger.With().Str("provider", string(name)).Dur("elapsed", elapsed).Logger()
	if r.metrics != nil {
		r.metrics.ProviderCalls.WithLabelValues(string(name), res.Kind.String()).Inc()
		r.metrics.ProviderLatency.WithLabelValues(string(name)).Observe(elapsed.Seconds())
	}

	if !res.OK() {
		log.Warn().Str("outcome", res.Kind.String()).Int("code", res.Code).Msg("provider call failed")
		return name, res, nil
	}

	turn := ledger.Turn{Prompt: utterance, Response: res.Text, Timestamp: r.now()}
	size := r.ledger.Append(turn)
	if r.metrics != nil {
		r.metrics.LedgerTurns.Set(float64(size))
	}
	log.Debug().Int("ledger_len", size).Msg("turn committed")

	if r.journal != nil {
		if err := r.journal.RecordTurn(ctx, string(name), turn); err != nil {
			log.Warn().Err(err).Msg("failed to journal turn")
		}
	}
	return name, res, nil
}

// Answer routes utterance and renders the outcome. It never fails: every
// failure comes back as a prefixed diagnostic.
func (r *Router) Answer(ctx context.Context, utterance string, explicit providers.Name) string {
	name, res, err := r.Route(ctx, utterance, explicit)
	if err != nil {
		return UnknownProvider(string(explicit))
	}
	if res.OK() {
		return res.Text
	}
	return Diagnostic(name, res)
}

// Reset drops the conversation context.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ledger.Clear()
	if r.metrics != nil {
		r.metrics.LedgerTurns.Set(0)
	}
}

func (r *Router) History() []ledger.Turn {
	return r.ledger.Snapshot()
}

func (r *Router) HistoryCapacity() int {
	return r.ledger.Cap()
}

// Diagnostic renders a failed result for the user.
func Diagnostic(name providers.Name, res providers.Result) string {
	label := name.DisplayName()
	switch res.Kind {
	case providers.KindAuthMissing:
		return fmt.Sprintf("%s %s no está configurado. Usa 'configurar %s' con tu clave API.", PrefixAuthMissing, label, name)
	case providers.KindTimeout:
		return fmt.Sprintf("%s %s tardó demasiado en responder. Inténtalo de nuevo.", PrefixTimeout, label)
	case providers.KindRemoteError:
		if res.Code == 0 {
			return fmt.Sprintf("%s No se pudo conectar con %s: %s", PrefixRemoteError, label, res.Detail)
		}
		return fmt.Sprintf("%s %s respondió con error %d: %s", PrefixRemoteError, label, res.Code, res.Detail)
	case providers.KindMalformed:
		return fmt.Sprintf("%s No pude generar una respuesta con %s (%s).", PrefixMalformed, label, res.Detail)
	default:
		return fmt.Sprintf("%s %s devolvió un resultado inesperado.", PrefixMalformed, label)
	}
}

func UnknownProvider(name string) string {
	return fmt.Sprintf("%s Proveedor desconocido: %q. Usa openai, gemini o huggingface.", PrefixUnknownProvider, name)
}
