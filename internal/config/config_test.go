package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pocket-ledger/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/home/tester/.local/share/ledger/ledger.db", cfg.Database.Path)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.VolatileTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ReferenceTTL)
	assert.Equal(t, 80, cfg.Budget.WarningThreshold)
	assert.Equal(t, "Miscellaneous", cfg.Budget.FallbackCategory)
	assert.True(t, cfg.Budget.FallbackCeiling.IsZero())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  path: ` + filepath.Join(dir, "ledger.db") + `
cache:
  enabled: false
  volatile_ttl: 5s
budget:
  warning_threshold: 90
  fallback_ceiling: "250.00"
  fallback_category: Other
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.Database.Path)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Cache.VolatileTTL)
	assert.Equal(t, 90, cfg.Budget.WarningThreshold)
	assert.Equal(t, "250", cfg.Budget.FallbackCeiling.String())
	assert.Equal(t, "Other", cfg.Budget.FallbackCategory)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		want error
	}{
		{"bad ceiling", "budget.fallback_ceiling", "lots", common.ErrInvalidConfig},
		{"negative ceiling", "budget.fallback_ceiling", "-1", common.ErrInvalidConfig},
		{"threshold too high", "budget.warning_threshold", 150, common.ErrInvalidConfig},
		{"blank fallback", "budget.fallback_category", "  ", common.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("LEDGER_DIR", "/data")

	assert.Equal(t, "/home/tester/ledger.db", ExpandPath("~/ledger.db"))
	assert.Equal(t, "/home/tester", ExpandPath("~"))
	assert.Equal(t, "/data/ledger.db", ExpandPath("$LEDGER_DIR/ledger.db"))
	assert.Equal(t, ":memory:", ExpandPath(":memory:"))
	assert.Equal(t, "", ExpandPath(""))
}
