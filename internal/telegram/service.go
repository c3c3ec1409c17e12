package telegram

import (
	"context"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jarvis/internal/assistant"
	"jarvis/internal/metrics"
	"jarvis/internal/providers"
	"jarvis/internal/quota"
	"jarvis/internal/worker"
)

// Assistant is the control side the bot drives directly. Turns go through
// the worker instead.
type Assistant interface {
	Configure(ctx context.Context, name providers.Name, secret string) error
	Revoke(ctx context.Context, name providers.Name) error
	Status() assistant.Status
	Reset()
}

type Submitter interface {
	Submit(job worker.Job) (string, error)
}

type Service struct {
	assistant   Assistant
	worker      Submitter
	rateLimiter *quota.RateLimiter
	wizard      *wizardStore
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	adminUserID int64
}

type Config struct {
	Assistant   Assistant
	Worker      Submitter
	RateLimiter *quota.RateLimiter
	// Redis backs the key wizard; nil keeps wizard state in process.
	Redis       *redis.Client
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	WizardTTL   time.Duration
	AdminUserID int64
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 10 * time.Minute
	}
	return &Service{
		assistant:   cfg.Assistant,
		worker:      cfg.Worker,
		rateLimiter: cfg.RateLimiter,
		wizard:      newWizardStore(cfg.Redis, cfg.WizardTTL),
		logger:      cfg.Logger.With().Str("component", "telegram").Logger(),
		metrics:     m,
		adminUserID: cfg.AdminUserID,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("help", s.wrap(s.help)))
	d.AddHandler(handlers.NewCommand("ayuda", s.wrap(s.help)))
	d.AddHandler(handlers.NewCommand("start", s.wrap(s.help)))
	d.AddHandler(handlers.NewCommand("status", s.wrap(s.status)))
	d.AddHandler(handlers.NewCommand("estado", s.wrap(s.status)))
	d.AddHandler(handlers.NewCommand("ask", s.wrap(s.ask)))
	d.AddHandler(handlers.NewCommand("configurar", s.wrap(s.configure)))
	d.AddHandler(handlers.NewCommand("revocar", s.wrap(s.revoke)))
	d.AddHandler(handlers.NewCommand("reset", s.wrap(s.reset)))
	d.AddHandler(handlers.NewCommand("cancelar", s.wrap(s.cancelWizard)))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Text(msg) && !message.Command(msg)
	}, s.wrap(s.text)))
}

type handlerFunc func(ctx context.Context, m messenger, in incoming) error

// wrap adapts a handler to gotgbot, dropping updates without a chat or
// message.
func (s *Service) wrap(h handlerFunc) func(b *gotgbot.Bot, ctx *ext.Context) error {
	return func(b *gotgbot.Bot, ctx *ext.Context) error {
		in, ok := incomingFrom(ctx)
		if !ok {
			return nil
		}
		return h(context.Background(), botMessenger{bot: b}, in)
	}
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
