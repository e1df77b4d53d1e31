package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/pricing/xerrors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.08, cfg.Pricing.PlatformFeeRate, 1e-12)
	assert.InDelta(t, -1.0, cfg.Elasticity.DefaultValue, 1e-12)
	assert.InDelta(t, 0.1, cfg.Optimizer.Lambda, 1e-12)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative fee", func(c *Config) { c.Pricing.PlatformFeeRate = -0.01 }},
		{"fee of one", func(c *Config) { c.Pricing.PlatformFeeRate = 1 }},
		{"zero window", func(c *Config) { c.Elasticity.WindowDays = 0 }},
		{"empty coefficient range", func(c *Config) { c.Elasticity.MinCoefficient = 2 }},
		{"margin clamp at 100", func(c *Config) { c.Advisor.MarginClampMax = 100 }},
		{"negative lambda", func(c *Config) { c.Optimizer.Lambda = -1 }},
		{"unknown priority", func(c *Config) { c.Optimizer.Priority = "random" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"bad cron spec", func(c *Config) { c.Scheduler.Enabled, c.Scheduler.Spec = true, "every night" }},
		{"unknown ingest source", func(c *Config) { c.Ingest.Source = "kafka" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.toml")
	content := `
[pricing]
platform_fee_rate = 0.05

[optimizer]
max_price_up_pct = 15
priority = "sales_volume"

[elasticity]
cache_ttl = "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cfg.Pricing.PlatformFeeRate, 1e-12)
	assert.InDelta(t, 15, cfg.Optimizer.MaxPriceUpPct, 1e-12)
	assert.Equal(t, "sales_volume", cfg.Optimizer.Priority)
	assert.Equal(t, "10m0s", cfg.Elasticity.CacheTTL.String())
	// 未出现的键保持默认值
	assert.Equal(t, 3, cfg.Elasticity.WindowDays)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pricing]\nplatform_fee_rate = 1.5\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrConfiguration))
}

func TestMaskHidesSecrets(t *testing.T) {
	m := map[string]any{
		"Redis":    map[string]any{"Addr": "localhost:6379", "Password": "p"},
		"Database": map[string]any{"DSN": "postgres://u:p@h/db"},
	}
	Mask(m)
	assert.Equal(t, "******", m["Redis"].(map[string]any)["Password"])
	assert.Equal(t, "localhost:6379", m["Redis"].(map[string]any)["Addr"])
	assert.Equal(t, "******", m["Database"].(map[string]any)["DSN"])
}
