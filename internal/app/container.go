package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jarvis/internal/assistant"
	"jarvis/internal/config"
	"jarvis/internal/credentials"
	"jarvis/internal/crypto"
	"jarvis/internal/httpapi"
	"jarvis/internal/ledger"
	"jarvis/internal/metrics"
	"jarvis/internal/providers/registry"
	"jarvis/internal/quota"
	"jarvis/internal/router"
	"jarvis/internal/storage"
	"jarvis/internal/worker"
)

// Options tune the graph per entrypoint.
type Options struct {
	// Actor is recorded on credential audit entries.
	Actor   string
	Browser assistant.Browser
	Logger  zerolog.Logger
	// ChatConfigure lets typed "configurar" commands store keys. Only the
	// terminal REPL enables it.
	ChatConfigure bool
}

// Container holds the wired services. Store and Redis are nil when not
// configured.
type Container struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Store       *storage.Store
	Redis       *redis.Client
	Credentials *credentials.Store
	Ledger      *ledger.Ledger
	Router      *router.Router
	Assistant   *assistant.Assistant
	Worker      *worker.Worker
	RateLimiter *quota.RateLimiter
}

// Build constructs the dependency graph and loads persisted credentials.
// Close releases whatever it opened.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  opts.Logger,
		Metrics: metrics.Global(),
	}

	if cfg.DB.Enabled() {
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		c.Store = store
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			c.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		c.Redis = rdb
		c.RateLimiter = quota.NewRateLimiter(rdb, cfg.Rate.PerHour)
	}

	var sealer *crypto.Sealer
	if cfg.Crypto.Enabled() {
		s, err := crypto.NewSealer(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init sealer: %w", err)
		}
		sealer = s
	}

	backend, err := c.credentialBackend()
	if err != nil {
		c.Close()
		return nil, err
	}
	credCfg := credentials.Config{
		Backend: backend,
		Sealer:  sealer,
		Logger:  c.Logger,
		Metrics: c.Metrics,
		Actor:   opts.Actor,
	}
	if c.Store != nil {
		credCfg.Auditor = c.Store
	}
	c.Credentials = credentials.New(credCfg)
	loaded := c.Credentials.Load(ctx)
	c.Logger.Debug().Int("credentials", len(loaded)).Str("backend", cfg.Credentials.Backend).Msg("credentials loaded")

	pc := cfg.Providers
	set := registry.BuildAll(registry.BuildOptions{
		OpenAI:      registry.Endpoint(pc.OpenAI),
		Gemini:      registry.Endpoint(pc.Gemini),
		HuggingFace: registry.Endpoint(pc.HuggingFace),
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		Timeout:     pc.Timeout,
		HTTPClient:  &http.Client{},
		Credentials: c.Credentials,
	})

	c.Ledger = ledger.New(cfg.History.Capacity)
	routerCfg := router.Config{
		Providers:   set,
		Credentials: c.Credentials,
		Ledger:      c.Ledger,
		Logger:      c.Logger,
		Metrics:     c.Metrics,
	}
	if c.Store != nil && cfg.DB.Journal {
		routerCfg.Journal = c.Store
	}
	c.Router = router.New(routerCfg)

	c.Assistant = assistant.New(assistant.Config{
		Router:      c.Router,
		Credentials: c.Credentials,
		Browser:     opts.Browser,
		Capabilities: assistant.Capabilities{
			SpeechInput:  cfg.Speech.Input,
			SpeechOutput: cfg.Speech.Output,
		},
		Logger:        c.Logger,
		Metrics:       c.Metrics,
		ChatConfigure: opts.ChatConfigure,
	})

	c.Worker = worker.New(worker.Config{
		Answerer:  c.Assistant,
		QueueSize: cfg.Worker.QueueSize,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
	})
	return c, nil
}

func (c *Container) credentialBackend() (credentials.Backend, error) {
	cc := c.Config.Credentials
	switch cc.Backend {
	case config.CredentialsFile:
		return credentials.NewFileBackend(cc.Path), nil
	case config.CredentialsRedis:
		if c.Redis == nil {
			return nil, config.ErrRedisRequired
		}
		return credentials.NewRedisBackend(c.Redis, cc.RedisKey), nil
	case config.CredentialsSQL:
		if c.Store == nil {
			return nil, config.ErrMissingDatabaseDSN
		}
		return credentials.NewSQLBackend(c.Store, cc.Document), nil
	default:
		return nil, config.ErrInvalidCredentialsBackend
	}
}

// HTTPHandler builds the API server over the container's services.
func (c *Container) HTTPHandler() http.Handler {
	cfg := httpapi.Config{
		Assistant:   c.Assistant,
		Worker:      c.Worker,
		Logger:      c.Logger,
		HealthPath:  c.Config.HTTP.HealthPath,
		MetricsPath: c.Config.HTTP.MetricsPath,
		AdminToken:  c.Config.HTTP.AdminToken,
	}
	if c.RateLimiter != nil {
		cfg.Limiter = c.RateLimiter
	}
	return httpapi.New(cfg)
}

func (c *Container) Close() {
	var errs []error
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		c.Logger.Warn().Err(err).Msg("close failed")
	}
}
