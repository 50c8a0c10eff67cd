package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Addr             string
	DatabaseURL      string
	TickEvery        time.Duration
	ExpirySweepEvery time.Duration
	StarterBalance   float64
	MaxNewsImpactPct float64
	AdminToken       string
	DiscordToken     string
	DiscordChannelID string
	Migrate          bool
}

type CLIConfig struct {
	APIBaseURL string
	GuildID    string
	UserID     string
}

func LoadServerFromEnv() (ServerConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("MARKETBOT_ADDR", ":8080")
	}

	cfg := ServerConfig{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TickEvery:        envDurationDefault("MARKETBOT_TICK_EVERY", 5*time.Second),
		ExpirySweepEvery: envDurationDefault("MARKETBOT_EXPIRY_SWEEP_EVERY", time.Minute),
		StarterBalance:   envFloatDefault("MARKETBOT_STARTER_BALANCE", 100_000),
		MaxNewsImpactPct: envFloatDefault("MARKETBOT_MAX_NEWS_IMPACT_PCT", 3),
		AdminToken:       strings.TrimSpace(os.Getenv("MARKETBOT_ADMIN_TOKEN")),
		DiscordToken:     strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID: strings.TrimSpace(os.Getenv("DISCORD_TICKER_CHANNEL_ID")),
		Migrate:          envBoolDefault("MARKETBOT_MIGRATE", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("MBCTL_API_BASE_URL", "http://localhost:8080"), "/"),
		GuildID:    envDefault("MBCTL_GUILD_ID", "local"),
		UserID:     envDefault("MBCTL_USER_ID", "local"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
