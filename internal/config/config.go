package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	JWTSecret string

	EconomyBaseURL string
	EconomyToken   string

	RulesPath   string
	RulesPreset string

	TickInterval  time.Duration
	FlushInterval time.Duration

	AllowAIGames          bool
	MaxConcurrentSessions int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:            ":8080",
		RulesPreset:           "standard",
		TickInterval:          250 * time.Millisecond,
		FlushInterval:         2 * time.Second,
		AllowAIGames:          true,
		MaxConcurrentSessions: 500,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))
	cfg.EconomyBaseURL = strings.TrimSpace(os.Getenv("ECONOMY_BASE_URL"))
	cfg.EconomyToken = strings.TrimSpace(os.Getenv("ECONOMY_TOKEN"))
	cfg.RulesPath = strings.TrimSpace(os.Getenv("RULES_PATH"))
	if v := strings.TrimSpace(os.Getenv("RULES_PRESET")); v != "" {
		cfg.RulesPreset = v
	}

	if v := strings.TrimSpace(os.Getenv("TICK_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TickInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("FLUSH_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FlushInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_AI_GAMES")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowAIGames = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_SESSIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentSessions = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}
