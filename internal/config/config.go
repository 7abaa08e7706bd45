package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  Server  `yaml:"server" json:"server"`
	Storage Storage `yaml:"storage" json:"storage"`
	Session Session `yaml:"session" json:"session"`
	Billing Billing `yaml:"billing" json:"billing"`
	Auth    Auth    `yaml:"auth" json:"auth"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr"`
}

type Storage struct {
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
}

type Session struct {
	LockDurationSeconds int     `yaml:"lock_duration_seconds" json:"lock_duration_seconds"`
	ResetDebounceMS     int     `yaml:"reset_debounce_ms" json:"reset_debounce_ms"`
	DefaultPrice        float64 `yaml:"default_price" json:"default_price"`
	MinPrice            float64 `yaml:"min_price" json:"min_price"`
	MaxPrice            float64 `yaml:"max_price" json:"max_price"`
}

type Billing struct {
	// Mode selects the gateway implementation: "stripe" or "fake".
	Mode            string `yaml:"mode" json:"mode"`
	Currency        string `yaml:"currency" json:"currency"`
	SuccessURL      string `yaml:"success_url" json:"success_url"`
	CancelURL       string `yaml:"cancel_url" json:"cancel_url"`
	PortalReturnURL string `yaml:"portal_return_url" json:"portal_return_url"`
}

type Auth struct {
	OTPTTLMinutes  int `yaml:"otp_ttl_minutes" json:"otp_ttl_minutes"`
	TokenTTLHours  int `yaml:"token_ttl_hours" json:"token_ttl_hours"`
	MaxOTPAttempts int `yaml:"max_otp_attempts" json:"max_otp_attempts"`
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/reeve.db"
	}
	if c.Session.LockDurationSeconds <= 0 {
		c.Session.LockDurationSeconds = 43200 // 12 hours
	}
	if c.Session.ResetDebounceMS <= 0 {
		c.Session.ResetDebounceMS = 1000
	}
	if c.Session.DefaultPrice <= 0 {
		c.Session.DefaultPrice = 10
	}
	if c.Session.MinPrice <= 0 {
		c.Session.MinPrice = 1
	}
	if c.Session.MaxPrice <= 0 {
		c.Session.MaxPrice = 1000
	}
	if c.Billing.Mode == "" {
		c.Billing.Mode = "stripe"
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if c.Auth.OTPTTLMinutes <= 0 {
		c.Auth.OTPTTLMinutes = 10
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 7 * 24
	}
	if c.Auth.MaxOTPAttempts <= 0 {
		c.Auth.MaxOTPAttempts = 5
	}
}

func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Session.LockDurationSeconds) * time.Second
}

func (c *Config) ResetDebounce() time.Duration {
	return time.Duration(c.Session.ResetDebounceMS) * time.Millisecond
}

func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	c.ApplyDefaults()
	c.applyEnv()
	return &c, nil
}

// LoadOrDefault loads the config file if it exists and falls back to
// defaults (plus env overrides) otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			c := Default()
			c.applyEnv()
			return c, nil
		}
		return nil, err
	}
	return Load(path)
}
