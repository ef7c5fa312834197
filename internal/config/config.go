package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/riftzone/riftzone/internal/game"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/catalog.db"`
	RedisURL string     `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// Auth provider token identifying the local participant, and the HMAC
	// secret to verify it with.
	AuthToken  string `env:"AUTH_TOKEN"`
	AuthSecret string `env:"AUTH_SECRET"`

	// Match policy. The anti-spam numbers are heuristics, kept tunable.
	CombatDuration   time.Duration `env:"COMBAT_DURATION" envDefault:"180s"`
	CombatEntryDelay time.Duration `env:"COMBAT_ENTRY_DELAY" envDefault:"5500ms"`
	CountdownTicks   int           `env:"COUNTDOWN_TICKS" envDefault:"4"`
	SpamSample       int           `env:"SPAM_SAMPLE" envDefault:"5"`
	SpamWindow       time.Duration `env:"SPAM_WINDOW" envDefault:"45s"`
	SpamWrongMin     int           `env:"SPAM_WRONG_MIN" envDefault:"4"`

	// Invite and housekeeping windows.
	InviteTTL      time.Duration `env:"INVITE_TTL" envDefault:"30m"`
	MatchRetention time.Duration `env:"MATCH_RETENTION" envDefault:"6h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"10m"`

	// Practice-opponent strategy.
	BotAccuracy    float64       `env:"BOT_ACCURACY" envDefault:"0.7"`
	BotAnswerDelay time.Duration `env:"BOT_ANSWER_DELAY" envDefault:"12s"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}

// Policy maps the tunables onto the engine policy.
func (c *Config) Policy() game.Policy {
	p := game.DefaultPolicy()
	p.CombatDuration = c.CombatDuration
	p.CombatEntryDelay = c.CombatEntryDelay
	p.CountdownTicks = c.CountdownTicks
	p.SpamSample = c.SpamSample
	p.SpamWindow = c.SpamWindow
	p.SpamWrongMin = c.SpamWrongMin
	return p
}
