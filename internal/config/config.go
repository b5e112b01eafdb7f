// Package config defines service configuration and its loading from
// defaults, an optional YAML file and DUEL_ environment variables.
package config

import (
	"time"

	"github.com/okian/duel/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// StoreBackend selects the image store: memory, badger or postgres.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory badger postgres"`
	// BadgerPath is the badger data directory. Empty keeps badger in memory.
	BadgerPath  string `koanf:"badger_path"`
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=StoreBackend postgres"`
	// RedisAddr enables shared metadata counters when set.
	RedisAddr string `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	// TxMaxRetries bounds retries of conflicting store transactions.
	TxMaxRetries int `koanf:"tx_max_retries" validate:"min=0,max=100"`

	CacheMaxSize     int           `koanf:"cache_max_size" validate:"min=1"`
	RefreshInterval  time.Duration `koanf:"refresh_interval" validate:"min=1s"`
	RefreshBatchSize int           `koanf:"refresh_batch_size" validate:"min=1"`
	BreakerFailures  uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout" validate:"min=1s"`

	RatingTau               float64 `koanf:"rating_tau" validate:"gt=0"`
	RatingEpsilon           float64 `koanf:"rating_epsilon" validate:"gt=0"`
	RatingDefaultVolatility float64 `koanf:"rating_default_volatility" validate:"gt=0"`
	RatingMinRD             float64 `koanf:"rating_min_rd" validate:"gt=0"`
	RatingMaxRD             float64 `koanf:"rating_max_rd" validate:"gtfield=RatingMinRD"`
	RatingMaxIterations     int     `koanf:"rating_max_iterations" validate:"min=1"`

	// LeaderboardInterval is the age after which leaderboards are stale.
	LeaderboardInterval time.Duration `koanf:"leaderboard_interval" validate:"min=1s"`
	// LeaderboardSchedule is the cron spec of the staleness check.
	LeaderboardSchedule string `koanf:"leaderboard_schedule" validate:"required"`
	// LeaderboardVersion is the operator tag folded into the config version.
	LeaderboardVersion string                    `koanf:"leaderboard_version" validate:"required"`
	Leaderboards       []model.LeaderboardConfig `koanf:"leaderboards" validate:"required,min=1,unique=Key,dive"`

	// BattleRateLimit caps POST /battles per client IP per minute; 0 disables.
	BattleRateLimit int `koanf:"battle_rate_limit" validate:"min=0"`

	TracingEnabled     bool    `koanf:"tracing_enabled"`
	TracingEndpoint    string  `koanf:"tracing_endpoint" validate:"required_if=TracingEnabled true"`
	TracingSampleRatio float64 `koanf:"tracing_sample_ratio" validate:"min=0,max=1"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:     "info",
		LogFormat:    "text",
		Addr:         ":9080",
		StoreBackend: "memory",
		TxMaxRetries: 5,

		CacheMaxSize:     100_000,
		RefreshInterval:  5 * time.Minute,
		RefreshBatchSize: 500,
		BreakerFailures:  3,
		BreakerTimeout:   30 * time.Second,

		RatingTau:               0.5,
		RatingEpsilon:           1e-6,
		RatingDefaultVolatility: 0.06,
		RatingMinRD:             50,
		RatingMaxRD:             350,
		RatingMaxIterations:     100,

		LeaderboardInterval: time.Hour,
		LeaderboardSchedule: "@every 1m",
		LeaderboardVersion:  "v1",
		Leaderboards:        DefaultLeaderboards(),

		BattleRateLimit: 120,

		TracingEndpoint:    "localhost:4318",
		TracingSampleRatio: 0.1,
	}
}

// DefaultLeaderboards ranks the top and bottom 100 of the whole pool and of
// each gender.
func DefaultLeaderboards() []model.LeaderboardConfig {
	var out []model.LeaderboardConfig
	for _, g := range []model.Gender{"", model.GenderMale, model.GenderFemale} {
		for _, d := range []model.Direction{model.DirectionTop, model.DirectionBottom} {
			key := string(d) + "-all"
			if g != "" {
				key = string(d) + "-" + string(g)
			}
			out = append(out, model.LeaderboardConfig{Key: key, Gender: g, Direction: d, Limit: 100})
		}
	}
	return out
}
