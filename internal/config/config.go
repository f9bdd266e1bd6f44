package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

// Config is the resolved application configuration.
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Budget   BudgetConfig
	Cache    CacheConfig
}

// DatabaseConfig locates the ledger file.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// CacheConfig controls the read cache tiers.
type CacheConfig struct {
	VolatileTTL  time.Duration
	ReferenceTTL time.Duration
	Enabled      bool
}

// BudgetConfig controls the aggregation engine.
type BudgetConfig struct {
	FallbackCeiling  decimal.Decimal
	FallbackCategory string
	WarningThreshold int
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.volatile_ttl", 30*time.Second)
	v.SetDefault("cache.reference_ttl", 10*time.Minute)
	v.SetDefault("budget.warning_threshold", model.DefaultWarningThreshold)
	v.SetDefault("budget.fallback_ceiling", "0")
	v.SetDefault("budget.fallback_category", "Miscellaneous")
}

// Load resolves a Config from v, applying defaults for anything unset.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	ceiling, err := decimal.NewFromString(v.GetString("budget.fallback_ceiling"))
	if err != nil {
		return nil, fmt.Errorf("%w: budget.fallback_ceiling: %w", common.ErrInvalidConfig, err)
	}
	if ceiling.IsNegative() {
		return nil, fmt.Errorf("%w: budget.fallback_ceiling must not be negative", common.ErrInvalidConfig)
	}

	threshold := v.GetInt("budget.warning_threshold")
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: budget.warning_threshold must be between 0 and 100, got %d", common.ErrInvalidConfig, threshold)
	}

	fallback := strings.TrimSpace(v.GetString("budget.fallback_category"))
	if fallback == "" {
		return nil, fmt.Errorf("%w: budget.fallback_category", common.ErrMissingConfig)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Cache: CacheConfig{
			Enabled:      v.GetBool("cache.enabled"),
			VolatileTTL:  v.GetDuration("cache.volatile_ttl"),
			ReferenceTTL: v.GetDuration("cache.reference_ttl"),
		},
		Budget: BudgetConfig{
			FallbackCeiling:  ceiling,
			FallbackCategory: fallback,
			WarningThreshold: threshold,
		},
	}

	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}

	return cfg, nil
}
