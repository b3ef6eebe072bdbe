/**
 * @description
 * This file handles the configuration management for the wallet backend.
 * It uses the Viper library to read settings from environment variables or a .env file,
 * then normalizes the values so the rest of the service never sees blanks or zeros.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	Port       string `mapstructure:"PORT"`

	TropiPayEnvironment    string `mapstructure:"TROPIPAY_ENVIRONMENT"`
	TropiPayURLDevelopment string `mapstructure:"TROPIPAY_API_URL_DEVELOPMENT"`
	TropiPayURLProduction  string `mapstructure:"TROPIPAY_API_URL_PRODUCTION"`
	RequestTimeoutMS       int    `mapstructure:"REQUEST_TIMEOUT_MS"`
	DeviceID               string `mapstructure:"DEVICE_ID"`

	CachePath   string `mapstructure:"CACHE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogAPICalls bool   `mapstructure:"LOG_API_CALLS"`

	AutoRefreshToken             bool   `mapstructure:"AUTO_REFRESH_TOKEN"`
	RetryOnRateLimit             bool   `mapstructure:"RETRY_ON_RATE_LIMIT"`
	RateLimitDefaultRetrySeconds int    `mapstructure:"RATE_LIMIT_DEFAULT_RETRY_SECONDS"`
	SupportedCurrencies          string `mapstructure:"SUPPORTED_CURRENCIES"`

	SessionTTLMinutes int    `mapstructure:"SESSION_TTL_MINUTES"`
	SessionJWTSecret  string `mapstructure:"SESSION_JWT_SECRET"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	EventExchange string `mapstructure:"EVENT_EXCHANGE"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	CacheRetentionHours        int    `mapstructure:"CACHE_RETENTION_HOURS"`
	CachePruneSchedule         string `mapstructure:"CACHE_PRUNE_SCHEDULE"`
	DemoSMSCode                string `mapstructure:"DEMO_SMS_CODE"`
}

var defaults = map[string]any{
	"SERVER_PORT":                      "3001",
	"TROPIPAY_ENVIRONMENT":             EnvironmentDevelopment,
	"TROPIPAY_API_URL_DEVELOPMENT":     "https://tropipay-dev.herokuapp.com",
	"TROPIPAY_API_URL_PRODUCTION":      "https://www.tropipay.com",
	"REQUEST_TIMEOUT_MS":               10000,
	"DEVICE_ID":                        "tropiwallet-backend",
	"CACHE_PATH":                       "./data/wallet_cache.db",
	"LOG_LEVEL":                        "info",
	"LOG_API_CALLS":                    false,
	"AUTO_REFRESH_TOKEN":               true,
	"RETRY_ON_RATE_LIMIT":              true,
	"RATE_LIMIT_DEFAULT_RETRY_SECONDS": 5,
	"SUPPORTED_CURRENCIES":             "USD,EUR,CUP",
	"SESSION_TTL_MINUTES":              1440,
	"EVENT_EXCHANGE":                   "wallet.events",
	"REDIS_RATE_LIMIT_PREFIX":          "tropiwallet:rate_limit",
	"TRANSFER_RATE_LIMIT_PER_MINUTE":   30,
	"CORS_ALLOWED_ORIGINS":             "http://localhost:3000",
	"CACHE_RETENTION_HOURS":            720,
	"CACHE_PRUNE_SCHEDULE":             "@every 1h",
}

var boundKeys = []string{
	"SERVER_PORT", "PORT",
	"TROPIPAY_ENVIRONMENT", "TROPIPAY_API_URL_DEVELOPMENT", "TROPIPAY_API_URL_PRODUCTION",
	"REQUEST_TIMEOUT_MS", "DEVICE_ID",
	"CACHE_PATH", "DATABASE_URL",
	"LOG_LEVEL", "LOG_API_CALLS",
	"AUTO_REFRESH_TOKEN", "RETRY_ON_RATE_LIMIT", "RATE_LIMIT_DEFAULT_RETRY_SECONDS", "SUPPORTED_CURRENCIES",
	"SESSION_TTL_MINUTES", "SESSION_JWT_SECRET",
	"RABBITMQ_URL", "EVENT_EXCHANGE",
	"REDIS_URL", "REDIS_RATE_LIMIT_PREFIX", "TRANSFER_RATE_LIMIT_PER_MINUTE",
	"CORS_ALLOWED_ORIGINS", "CACHE_RETENTION_HOURS", "CACHE_PRUNE_SCHEDULE", "DEMO_SMS_CODE",
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"error reading config file\" err=%v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.normalize()
	return &config, nil
}

func (c *Config) normalize() {
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	if port := strings.TrimSpace(c.Port); port != "" {
		c.ServerPort = port
	}
	if c.ServerPort == "" {
		c.ServerPort = defaults["SERVER_PORT"].(string)
	}

	c.TropiPayEnvironment = strings.ToLower(strings.TrimSpace(c.TropiPayEnvironment))
	switch c.TropiPayEnvironment {
	case EnvironmentDevelopment, EnvironmentProduction:
	default:
		log.Printf("level=warn component=config msg=\"unknown TROPIPAY_ENVIRONMENT, using development\" value=%q", c.TropiPayEnvironment)
		c.TropiPayEnvironment = EnvironmentDevelopment
	}

	c.TropiPayURLDevelopment = trimOr(c.TropiPayURLDevelopment, defaults["TROPIPAY_API_URL_DEVELOPMENT"].(string))
	c.TropiPayURLProduction = trimOr(c.TropiPayURLProduction, defaults["TROPIPAY_API_URL_PRODUCTION"].(string))
	c.DeviceID = trimOr(c.DeviceID, defaults["DEVICE_ID"].(string))
	c.CachePath = trimOr(c.CachePath, defaults["CACHE_PATH"].(string))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.LogLevel = strings.ToLower(trimOr(c.LogLevel, "info"))
	c.SupportedCurrencies = trimOr(c.SupportedCurrencies, defaults["SUPPORTED_CURRENCIES"].(string))
	c.SessionJWTSecret = strings.TrimSpace(c.SessionJWTSecret)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.EventExchange = trimOr(c.EventExchange, defaults["EVENT_EXCHANGE"].(string))
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RedisRateLimitPrefix = trimOr(c.RedisRateLimitPrefix, defaults["REDIS_RATE_LIMIT_PREFIX"].(string))
	c.CORSAllowedOrigins = trimOr(c.CORSAllowedOrigins, defaults["CORS_ALLOWED_ORIGINS"].(string))
	c.CachePruneSchedule = trimOr(c.CachePruneSchedule, defaults["CACHE_PRUNE_SCHEDULE"].(string))
	c.DemoSMSCode = strings.TrimSpace(c.DemoSMSCode)

	c.RequestTimeoutMS = positiveOr(c.RequestTimeoutMS, defaults["REQUEST_TIMEOUT_MS"].(int))
	c.RateLimitDefaultRetrySeconds = positiveOr(c.RateLimitDefaultRetrySeconds, defaults["RATE_LIMIT_DEFAULT_RETRY_SECONDS"].(int))
	c.SessionTTLMinutes = positiveOr(c.SessionTTLMinutes, defaults["SESSION_TTL_MINUTES"].(int))
	c.CacheRetentionHours = positiveOr(c.CacheRetentionHours, defaults["CACHE_RETENTION_HOURS"].(int))
	if c.TransferRateLimitPerMinute < 0 {
		c.TransferRateLimitPerMinute = 0
	}
}

// TropiPayBaseURLs returns the API host per environment.
func (c *Config) TropiPayBaseURLs() map[string]string {
	return map[string]string{
		EnvironmentDevelopment: c.TropiPayURLDevelopment,
		EnvironmentProduction:  c.TropiPayURLProduction,
	}
}

// RequestTimeout returns the per-request timeout for remote calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// DefaultRetryAfter is the Retry-After fallback for 429 responses.
func (c *Config) DefaultRetryAfter() time.Duration {
	return time.Duration(c.RateLimitDefaultRetrySeconds) * time.Second
}

// SessionTTL is the idle lifetime of a backend session.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// CacheRetention is the age after which cached rows are pruned.
func (c *Config) CacheRetention() time.Duration {
	return time.Duration(c.CacheRetentionHours) * time.Hour
}

// Currencies returns the configured currency codes.
func (c *Config) Currencies() []string {
	return splitList(c.SupportedCurrencies)
}

// AllowedOrigins returns the configured CORS origins.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// DemoSMSEnabled reports whether request-sms short-circuits to demo mode.
func (c *Config) DemoSMSEnabled() bool {
	return c.TropiPayEnvironment == EnvironmentDevelopment && c.DemoSMSCode != ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimOr(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
