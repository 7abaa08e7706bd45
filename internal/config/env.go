package config

import (
	"os"
	"strconv"
)

// applyEnv layers REEVE_* environment overrides on top of the loaded
// config. Values that fail to parse are ignored.
func (c *Config) applyEnv() {
	if v := os.Getenv("REEVE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("REEVE_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := getEnvInt("REEVE_LOCK_DURATION_SECONDS"); v > 0 {
		c.Session.LockDurationSeconds = v
	}
	if v := getEnvInt("REEVE_RESET_DEBOUNCE_MS"); v > 0 {
		c.Session.ResetDebounceMS = v
	}
	if v := getEnvFloat("REEVE_DEFAULT_PRICE"); v > 0 {
		c.Session.DefaultPrice = v
	}
	if v := os.Getenv("REEVE_BILLING_MODE"); v != "" {
		c.Billing.Mode = v
	}
	if v := os.Getenv("REEVE_CURRENCY"); v != "" {
		c.Billing.Currency = v
	}
	if v := getEnvInt("REEVE_OTP_TTL_MINUTES"); v > 0 {
		c.Auth.OTPTTLMinutes = v
	}
	if v := getEnvInt("REEVE_TOKEN_TTL_HOURS"); v > 0 {
		c.Auth.TokenTTLHours = v
	}
	if v := getEnvInt("REEVE_OTP_MAX_ATTEMPTS"); v > 0 {
		c.Auth.MaxOTPAttempts = v
	}
}

// StripeSecretKey comes from the environment only, never from the config
// file.
func StripeSecretKey() string {
	return os.Getenv("REEVE_STRIPE_SECRET_KEY")
}

func StripeWebhookSecret() string {
	return os.Getenv("REEVE_STRIPE_WEBHOOK_SECRET")
}

func getEnvInt(key string) int {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

func getEnvFloat(key string) float64 {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	return num
}
