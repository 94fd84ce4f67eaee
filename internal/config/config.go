// Package config loads service configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/atmx/pnl-engine/internal/calendar"
	"github.com/atmx/pnl-engine/internal/model"
)

type Config struct {
	Port        string
	DatabaseURL string // Postgres; takes precedence over SQLitePath
	SQLitePath  string
	RedisURL    string
	CacheTTL    time.Duration
	MarketOpen  calendar.Clock
	MarketClose calendar.Clock
	Holidays    []model.Day
}

// Market returns the trading-day oracle described by the configured holidays.
func (c *Config) Market() calendar.WeekdayCalendar {
	return calendar.NewWeekdayCalendar(c.Holidays...)
}

// Engine returns a calendar engine using the configured session hours.
func (c *Config) Engine() *calendar.Engine {
	e := calendar.NewEngine(c.Market())
	e.Open = c.MarketOpen
	e.Close = c.MarketClose
	return e
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	ttl, err := time.ParseDuration(getEnvDefault("CACHE_TTL", "10m"))
	if err != nil || ttl < 0 {
		return nil, fmt.Errorf("CACHE_TTL must be a non-negative duration, got %q", os.Getenv("CACHE_TTL"))
	}
	cfg.CacheTTL = ttl

	if cfg.MarketOpen, err = calendar.ParseClock(getEnvDefault("MARKET_OPEN", "09:30")); err != nil {
		return nil, fmt.Errorf("MARKET_OPEN: %w", err)
	}
	if cfg.MarketClose, err = calendar.ParseClock(getEnvDefault("MARKET_CLOSE", "16:00")); err != nil {
		return nil, fmt.Errorf("MARKET_CLOSE: %w", err)
	}
	if !cfg.MarketOpen.Before(cfg.MarketClose) {
		return nil, fmt.Errorf("MARKET_OPEN %s must be before MARKET_CLOSE %s", cfg.MarketOpen, cfg.MarketClose)
	}

	for _, raw := range strings.Split(os.Getenv("HOLIDAYS"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		day, err := model.ParseDay(raw)
		if err != nil {
			return nil, fmt.Errorf("HOLIDAYS: %w", err)
		}
		cfg.Holidays = append(cfg.Holidays, day)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
