package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// RiskParams holds the process-wide risk policy. Values are loaded at
// startup and mutated only through the risk guard's bounded update, which
// persists the record back to disk so limits survive restarts.
type RiskParams struct {
	MinProfitBps      uint64   `json:"min_profit_bps"`
	MaxTradeSize      *big.Int `json:"max_trade_size"`
	MaxPriceImpactBps uint64   `json:"max_price_impact_bps"`
	MaxGasPrice       *big.Int `json:"max_gas_price"`
	MaxGasPerPath     uint64   `json:"max_gas_per_path"`
	MinLiquidity      *big.Int `json:"min_liquidity"`
	EmergencyDelay    Duration `json:"emergency_delay"`
}

// DiscoveryConfig bounds one quote/path discovery cycle.
type DiscoveryConfig struct {
	Interval           Duration `json:"interval"`
	VenueTimeout       Duration `json:"venue_timeout"`
	OverallDeadline    Duration `json:"overall_deadline"`
	QuoteTTL           Duration `json:"quote_ttl"`
	QuoteCacheSize     int      `json:"quote_cache_size"`
	VenueRatePerSecond float64  `json:"venue_rate_per_second"`
	VenueRateBurst     int      `json:"venue_rate_burst"`
	StartToken         string   `json:"start_token"`
	IntermediateTokens []string `json:"intermediate_tokens"`
	TradeAmount        *big.Int `json:"trade_amount"`
}

type Config struct {
	Risk      RiskParams      `json:"risk"`
	Discovery DiscoveryConfig `json:"discovery"`

	SlippageToleranceBps uint64 `json:"slippage_tolerance_bps"`

	VenueSeedFile     string `json:"venue_seed_file"`
	ProfitRecipient   string `json:"profit_recipient"`
	RecoveryRecipient string `json:"recovery_recipient"`
	FundingSource     string `json:"funding_source"`

	DryRun bool `json:"dry_run"`

	// GasPriceWei pins the gas price the validator checks against
	// MaxGasPrice. Paper deployments have no fee feed, so the price is
	// operator-set.
	GasPriceWei *big.Int `json:"gas_price_wei"`

	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`

	// Internal components
	Logger *zap.Logger `json:"-"`

	// Path the config was loaded from; updates are persisted back here.
	path string
}

// Duration wraps time.Duration with JSON string encoding ("30s", "1h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.Risk.MinProfitBps == 0 {
		errors = append(errors, "min_profit_bps must be positive")
	}
	if c.Risk.MinProfitBps > 1000 {
		errors = append(errors, "min_profit_bps must not exceed 1000")
	}
	if c.Risk.MaxTradeSize == nil || c.Risk.MaxTradeSize.Sign() <= 0 {
		errors = append(errors, "max_trade_size must be positive")
	}
	if c.Risk.MaxGasPrice == nil || c.Risk.MaxGasPrice.Sign() <= 0 {
		errors = append(errors, "max_gas_price must be positive")
	}
	if c.Risk.MaxGasPerPath == 0 {
		errors = append(errors, "max_gas_per_path must be positive")
	}
	if c.Risk.MinLiquidity == nil || c.Risk.MinLiquidity.Sign() < 0 {
		errors = append(errors, "min_liquidity must be set")
	}
	if c.Risk.EmergencyDelay.Std() <= 0 {
		errors = append(errors, "emergency_delay must be positive")
	}

	if c.Discovery.VenueTimeout.Std() <= 0 {
		errors = append(errors, "venue_timeout must be positive")
	}
	if c.Discovery.OverallDeadline.Std() < c.Discovery.VenueTimeout.Std() {
		errors = append(errors, "overall_deadline must not be shorter than venue_timeout")
	}
	if c.Discovery.QuoteTTL.Std() <= c.Discovery.VenueTimeout.Std() {
		errors = append(errors, "quote_ttl must exceed venue_timeout or quotes go stale before validation")
	}
	if c.Discovery.TradeAmount == nil || c.Discovery.TradeAmount.Sign() <= 0 {
		errors = append(errors, "trade_amount must be positive")
	}
	if c.Discovery.StartToken != "" && !common.IsHexAddress(c.Discovery.StartToken) {
		errors = append(errors, "start_token must be a hex address")
	}
	for _, tok := range c.Discovery.IntermediateTokens {
		if !common.IsHexAddress(tok) {
			errors = append(errors, fmt.Sprintf("intermediate token %q is not a hex address", tok))
		}
	}

	if c.GasPriceWei == nil || c.GasPriceWei.Sign() <= 0 {
		errors = append(errors, "gas_price_wei must be positive")
	}
	if c.SlippageToleranceBps >= 10000 {
		errors = append(errors, "slippage_tolerance_bps must be below 10000")
	}
	if c.ProfitRecipient != "" && !common.IsHexAddress(c.ProfitRecipient) {
		errors = append(errors, "profit_recipient must be a hex address")
	}
	if c.RecoveryRecipient != "" && !common.IsHexAddress(c.RecoveryRecipient) {
		errors = append(errors, "recovery_recipient must be a hex address")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".arbot.json")
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	config.path = cfgFile

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	config.Logger = logger

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig writes the configuration back to cfgFile, or to the file it was
// loaded from when cfgFile is empty.
func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		cfgFile = cfg.path
	}
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".arbot.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

func DefaultConfig() *Config {
	return &Config{
		Logger: zap.NewNop(),
		Risk: RiskParams{
			MinProfitBps:      10, // 0.1%
			MaxTradeSize:      new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
			MaxPriceImpactBps: 500, // 5%, per leg
			MaxGasPrice:       big.NewInt(500000000000), // 500 Gwei
			MaxGasPerPath:     900000,
			MinLiquidity:      new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
			EmergencyDelay:    Duration(time.Hour),
		},
		Discovery: DiscoveryConfig{
			Interval:           Duration(3 * time.Second),
			VenueTimeout:       Duration(800 * time.Millisecond),
			OverallDeadline:    Duration(2 * time.Second),
			QuoteTTL:           Duration(5 * time.Second),
			QuoteCacheSize:     1024,
			VenueRatePerSecond: 10,
			VenueRateBurst:     20,
			TradeAmount:        big.NewInt(1e18),
		},
		SlippageToleranceBps: 50, // 0.5%
		DryRun:               true,
		GasPriceWei:          big.NewInt(30000000000), // 30 Gwei
		PrometheusEnabled:    false,
		PrometheusEndpoint:   "",
	}
}
