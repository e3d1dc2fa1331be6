package config

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateConfig())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "zero min profit",
			mutate: func(c *Config) { c.Risk.MinProfitBps = 0 },
			errMsg: "min_profit_bps must be positive",
		},
		{
			name:   "excessive min profit",
			mutate: func(c *Config) { c.Risk.MinProfitBps = 1001 },
			errMsg: "min_profit_bps must not exceed 1000",
		},
		{
			name:   "nil max trade size",
			mutate: func(c *Config) { c.Risk.MaxTradeSize = nil },
			errMsg: "max_trade_size must be positive",
		},
		{
			name: "ttl shorter than venue timeout",
			mutate: func(c *Config) {
				c.Discovery.QuoteTTL = Duration(100 * time.Millisecond)
			},
			errMsg: "quote_ttl must exceed venue_timeout",
		},
		{
			name:   "bad recipient",
			mutate: func(c *Config) { c.ProfitRecipient = "not-an-address" },
			errMsg: "profit_recipient must be a hex address",
		},
		{
			name:   "missing gas price",
			mutate: func(c *Config) { c.GasPriceWei = nil },
			errMsg: "gas_price_wei must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.ValidateConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbot.json")

	cfg := DefaultConfig()
	cfg.Risk.MinProfitBps = 42
	cfg.Risk.MaxTradeSize = big.NewInt(123456789)
	cfg.Risk.EmergencyDelay = Duration(2 * time.Hour)
	cfg.Discovery.IntermediateTokens = []string{
		"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), loaded.Risk.MinProfitBps)
	assert.Equal(t, "123456789", loaded.Risk.MaxTradeSize.String())
	assert.Equal(t, 2*time.Hour, loaded.Risk.EmergencyDelay.Std())
	assert.Equal(t, cfg.Discovery.IntermediateTokens, loaded.Discovery.IntermediateTokens)
}

func TestSavePersistsBackToLoadedPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arbot.json")
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)

	loaded.Risk.MinProfitBps = 77
	require.NoError(t, SaveConfig(loaded, ""))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), reloaded.Risk.MinProfitBps)
}
