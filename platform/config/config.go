// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitPerMinute() int
}

// PortalAPIConfig provides settings for the remote portal REST API.
type PortalAPIConfig interface {
	GetPortalAPIURL() string
	GetPortalAPIToken() string
	GetPortalAPITimeout() time.Duration
}

// GeocoderConfig provides settings for free-text location resolution.
type GeocoderConfig interface {
	GetGeocoderURL() string
	GetGeocoderUserAgent() string
	GetGeocoderCountryCodes() string
	GetGeocodeTimeout() time.Duration
	GetGeocodeConcurrency() int
	GetGeocodeRatePerSecond() float64
	GetGeocodeCacheTTL() time.Duration
}

// RedisConfig provides the Redis connection used by the geocode cache.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides settings for the asynq scheduler.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetGeocodeWarmInterval() time.Duration
}

// MapSyncConfig provides the popup readiness polling bounds.
type MapSyncConfig interface {
	GetPopupPollInterval() time.Duration
	GetPopupMaxAttempts() int
}

// DashboardConfig provides settings for dashboard sessions.
type DashboardConfig interface {
	MapSyncConfig
	GetPageSize() int
	GetSessionIdleTTL() time.Duration
	GetDistrictsFile() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	RateLimitPerMinute   int
	PortalAPIURL         string
	PortalAPIToken       string
	PortalAPITimeout     time.Duration
	GeocoderURL          string
	GeocoderUserAgent    string
	GeocoderCountryCodes string
	GeocodeTimeout       time.Duration
	GeocodeConcurrency   int
	GeocodeRatePerSecond float64
	GeocodeCacheTTL      time.Duration
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	GeocodeWarmInterval  time.Duration
	PopupPollInterval    time.Duration
	PopupMaxAttempts     int
	PageSize             int
	SessionIdleTTL       time.Duration
	DistrictsFile        string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string        { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool      { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string   { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool    { return c.CORSAllowCreds }
func (c *Config) GetRateLimitPerMinute() int { return c.RateLimitPerMinute }

// PortalAPIConfig implementation
func (c *Config) GetPortalAPIURL() string            { return c.PortalAPIURL }
func (c *Config) GetPortalAPIToken() string          { return c.PortalAPIToken }
func (c *Config) GetPortalAPITimeout() time.Duration { return c.PortalAPITimeout }

// GeocoderConfig implementation
func (c *Config) GetGeocoderURL() string            { return c.GeocoderURL }
func (c *Config) GetGeocoderUserAgent() string      { return c.GeocoderUserAgent }
func (c *Config) GetGeocoderCountryCodes() string   { return c.GeocoderCountryCodes }
func (c *Config) GetGeocodeTimeout() time.Duration  { return c.GeocodeTimeout }
func (c *Config) GetGeocodeConcurrency() int        { return c.GeocodeConcurrency }
func (c *Config) GetGeocodeRatePerSecond() float64  { return c.GeocodeRatePerSecond }
func (c *Config) GetGeocodeCacheTTL() time.Duration { return c.GeocodeCacheTTL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string             { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int              { return c.AsynqConcurrency }
func (c *Config) GetGeocodeWarmInterval() time.Duration { return c.GeocodeWarmInterval }

// MapSyncConfig implementation
func (c *Config) GetPopupPollInterval() time.Duration { return c.PopupPollInterval }
func (c *Config) GetPopupMaxAttempts() int            { return c.PopupMaxAttempts }

// DashboardConfig implementation
func (c *Config) GetPageSize() int                 { return c.PageSize }
func (c *Config) GetSessionIdleTTL() time.Duration { return c.SessionIdleTTL }
func (c *Config) GetDistrictsFile() string         { return c.DistrictsFile }

// IsRedisEnabled reports whether a Redis URL has been configured.
func (c *Config) IsRedisEnabled() bool { return c.RedisURL != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RateLimitPerMinute:   mustInt(getEnv("RATE_LIMIT_PER_MINUTE", "120")),
		PortalAPIURL:         strings.TrimRight(getEnv("PORTAL_API_URL", ""), "/"),
		PortalAPIToken:       getEnv("PORTAL_API_TOKEN", ""),
		PortalAPITimeout:     mustDuration(getEnv("PORTAL_API_TIMEOUT", "10s")),
		GeocoderURL:          getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent:    getEnv("GEOCODER_USER_AGENT", "ReliefPortal/1.0"),
		GeocoderCountryCodes: getEnv("GEOCODER_COUNTRY_CODES", "in"),
		GeocodeTimeout:       mustDuration(getEnv("GEOCODE_TIMEOUT", "5s")),
		GeocodeConcurrency:   mustInt(getEnv("GEOCODE_CONCURRENCY", "8")),
		GeocodeRatePerSecond: mustFloat(getEnv("GEOCODE_RATE_PER_SECOND", "0")),
		GeocodeCacheTTL:      mustDuration(getEnv("GEOCODE_CACHE_TTL", "168h")),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		GeocodeWarmInterval:  mustDuration(getEnv("GEOCODE_WARM_INTERVAL", "6h")),
		PopupPollInterval:    mustDuration(getEnv("POPUP_POLL_INTERVAL", "100ms")),
		PopupMaxAttempts:     mustInt(getEnv("POPUP_MAX_ATTEMPTS", "20")),
		PageSize:             mustInt(getEnv("PAGE_SIZE", "4")),
		SessionIdleTTL:       mustDuration(getEnv("SESSION_IDLE_TTL", "30m")),
		DistrictsFile:        getEnv("DISTRICTS_FILE", ""),
	}

	if cfg.PortalAPIURL == "" {
		return nil, fmt.Errorf("PORTAL_API_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.PopupMaxAttempts < 1 {
		return nil, fmt.Errorf("POPUP_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("PAGE_SIZE must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
