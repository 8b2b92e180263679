package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
trading:
  symbols: [BTCUSDT, ETHUSDT]
analysis:
  filter:
    policy: asymmetric
  risk:
    swing_span: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "asymmetric", cfg.Analysis.Filter.Policy)
	assert.Equal(t, 3, cfg.Analysis.Risk.SwingSpan)
	// значения, не указанные в файле, остаются по умолчанию
	assert.Equal(t, 30, cfg.Analysis.Risk.SwingLookback)
	assert.Equal(t, 150, cfg.Candles.Capacity)
	assert.Equal(t, "paper", cfg.Execution.Mode)
	assert.Equal(t, 0.003, cfg.Analysis.Risk.MinDistancePct)
}

func TestLoadEnvOverridesSecrets(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")
	path := writeConfig(t, `
binance:
  api_key: file-key
trading:
  symbols: [BTCUSDT]
execution:
  mode: live
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Binance.APIKey)
	assert.Equal(t, "env-secret", cfg.Binance.APISecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }},
		{"same timeframes", func(c *Config) { c.Trading.LTFInterval = c.Trading.HTFInterval }},
		{"unknown policy", func(c *Config) { c.Analysis.Filter.Policy = "fibonacci" }},
		{"unknown breaker variant", func(c *Config) { c.Analysis.Detection.BreakerVariant = "mirror" }},
		{"zero tick", func(c *Config) { c.Analysis.Detection.TickSize = 0 }},
		{"fallback inside min distance", func(c *Config) { c.Analysis.Risk.FallbackPct = 0.001 }},
		{"live without keys", func(c *Config) { c.Execution.Mode = "live" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Trading.Symbols = []string{"BTCUSDT"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}

	cfg := Default()
	cfg.Trading.Symbols = []string{"BTCUSDT"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
