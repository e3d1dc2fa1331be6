package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfigFile        = "ARBOT_CONFIG"
	EnvProfitRecipient   = "ARBOT_PROFIT_RECIPIENT"
	EnvRecoveryRecipient = "ARBOT_RECOVERY_RECIPIENT"
	EnvVenueSeedFile     = "ARBOT_VENUE_SEED_FILE"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnvOverrides lets deployment-sensitive addresses come from the
// environment instead of the config file.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvProfitRecipient); v != "" {
		c.ProfitRecipient = v
	}
	if v := os.Getenv(EnvRecoveryRecipient); v != "" {
		c.RecoveryRecipient = v
	}
	if v := os.Getenv(EnvVenueSeedFile); v != "" {
		c.VenueSeedFile = v
	}
}
