package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// devSigningKey signs tokens in development when AUTH_SIGNING_KEY is unset.
const devSigningKey = "sidra-development-signing-key-not-for-production"

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	LogLevel                 string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	AuthSigningKey           string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer               string        `mapstructure:"AUTH_ISSUER"`
	AuthTokenTTL             time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	OTPTTL                   time.Duration `mapstructure:"OTP_TTL"`
	OTPDevCode               string        `mapstructure:"OTP_DEV_CODE"`
	OTPPurgeInterval         time.Duration `mapstructure:"OTP_PURGE_INTERVAL"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	ReferenceRefreshInterval time.Duration `mapstructure:"REFERENCE_REFRESH_INTERVAL"`
	SessionTTL               time.Duration `mapstructure:"SESSION_TTL"`
	TLSEnabled               bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile              string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile               string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_TOKEN_TTL", "OTP_TTL", "OTP_DEV_CODE",
	"OTP_PURGE_INTERVAL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REFERENCE_REFRESH_INTERVAL", "SESSION_TTL", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUTH_ISSUER", "sidra")
	v.SetDefault("AUTH_TOKEN_TTL", "8h")
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_PURGE_INTERVAL", "10m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:4200")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REFERENCE_REFRESH_INTERVAL", "1h")
	v.SetDefault("SESSION_TTL", "2h")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.IsDev() && cfg.OTPDevCode == "" {
		cfg.OTPDevCode = "000000"
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. Development falls back to a fixed
// key so tokens work without setup.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		if c.IsDev() {
			return []byte(devSigningKey), nil
		}
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := c.SigningKey(); err != nil {
		return err
	}
	if c.OTPDevCode != "" && !c.IsDev() {
		return fmt.Errorf("OTP_DEV_CODE is only allowed when ENV=development")
	}
	for name, d := range map[string]time.Duration{
		"AUTH_TOKEN_TTL":             c.AuthTokenTTL,
		"OTP_TTL":                    c.OTPTTL,
		"OTP_PURGE_INTERVAL":         c.OTPPurgeInterval,
		"REFERENCE_REFRESH_INTERVAL": c.ReferenceRefreshInterval,
		"SESSION_TTL":                c.SessionTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
