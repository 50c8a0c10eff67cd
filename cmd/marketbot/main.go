package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketbot/internal/api"
	"marketbot/internal/config"
	"marketbot/internal/db"
	"marketbot/internal/discord"
	"marketbot/internal/market"
	"marketbot/internal/store/pgstore"

	"github.com/shopspring/decimal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := pgstore.New(pool, logger)
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	engine := market.NewEngine(store, logger, market.Config{
		TickInterval:     cfg.TickEvery,
		ExpiryInterval:   cfg.ExpirySweepEvery,
		StarterBalance:   decimal.NewFromFloat(cfg.StarterBalance),
		MaxNewsImpactPct: cfg.MaxNewsImpactPct,
	})
	engine.Start(ctx)
	defer engine.Stop()

	if cfg.DiscordToken != "" {
		bot, err := discord.New(cfg.DiscordToken, engine, logger, cfg.DiscordChannelID)
		if err != nil {
			logger.Error("discord init failed", "err", err)
			os.Exit(1)
		}
		if err := bot.Start(ctx); err != nil {
			logger.Error("discord start failed", "err", err)
			os.Exit(1)
		}
		defer bot.Close()
	}

	server := api.New(cfg, logger, engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("marketbot api listening", "addr", cfg.Addr, "tick_every", cfg.TickEvery.String())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
