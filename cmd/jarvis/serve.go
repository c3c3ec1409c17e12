package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/rs/zerolog/log"

	"jarvis/internal/app"
	"jarvis/internal/config"
	"jarvis/internal/quota"
	"jarvis/internal/telegram"
)

func serve(ctx context.Context, c *app.Container) error {
	cfg := c.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := c.Assistant.Status()
	log.Info().
		Str("provider", string(st.Provider)).
		Bool("configured", st.Configured).
		Str("credentials_backend", cfg.Credentials.Backend).
		Bool("db", c.Store != nil).
		Bool("redis", c.Redis != nil).
		Bool("telegram", cfg.Telegram.Enabled()).
		Msg("starting jarvis")

	errCh := make(chan error, 3)

	go func() {
		if err := c.Worker.Start(ctx); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker failed: %w", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           c.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var updater *ext.Updater
	if cfg.Telegram.Enabled() {
		u, err := startTelegram(c)
		if err != nil {
			_ = httpServer.Close()
			return err
		}
		updater = u
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if updater != nil {
		if err := updater.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop updater")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	cancel()

	log.Info().Msg("stopped")
	return nil
}

func startTelegram(c *app.Container) (*ext.Updater, error) {
	cfg := c.Config
	bot, err := gotgbot.NewBot(cfg.Telegram.BotToken, nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %s", sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}

	allowedUserID := int64(0)
	if cfg.Telegram.AccessMode == config.AccessModePrivate {
		allowedUserID = cfg.Telegram.AdminUserID
	}
	processor := telegram.Processor{
		Metrics:       c.Metrics,
		Logger:        log.Logger,
		AllowedUserID: allowedUserID,
	}
	if c.Redis != nil {
		processor.Dedupe = quota.NewUpdateDeduplicator(c.Redis, cfg.Redis.UpdateTTL)
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor:        processor,
	})

	service := telegram.NewService(telegram.Config{
		Assistant:   c.Assistant,
		Worker:      c.Worker,
		RateLimiter: c.RateLimiter,
		Redis:       c.Redis,
		Logger:      log.Logger,
		Metrics:     c.Metrics,
		AdminUserID: cfg.Telegram.AdminUserID,
	})
	service.Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    true,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("start polling: %s", sanitizeTelegramErr(err, cfg.Telegram.BotToken))
	}
	log.Info().Msg("telegram polling started")
	return updater, nil
}
