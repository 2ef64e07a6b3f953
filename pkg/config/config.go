// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Upstream extraction API
	APIURL          string
	APIKey          string
	UpstreamTimeout time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	// Client-side ceiling on outbound extraction calls, requests per second.
	UpstreamRPS   float64
	UpstreamBurst int

	// CDN hosts whose media URLs get rewritten to proxied download paths.
	CDNHosts []string

	// Abuse mitigation
	ProxyLimit        int
	ProxyStrictLimit  int
	RateWindow        time.Duration
	BotLongThreshold  int
	BotLongWindow     time.Duration
	BotShortThreshold int
	BotShortWindow    time.Duration
	AllowedOrigins    []string

	// Caching
	ResponseCacheTTL time.Duration
	DataDir          string

	// Shared stores (optional; empty addr means in-process)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Outbound proxy for CDN fetches
	GlobalProxy string

	// Logging
	LogLevel  string
	LogJSON   bool
	DebugMode bool
}

// Load reads configuration from environment variables with sensible defaults.
// The upstream API credentials have no defaults; Validate reports their absence.
func Load() *Config {
	port := getEnvInt("PORT", 8080)
	cfg := &Config{
		Port:              port,
		BaseURL:           getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:       getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getEnvDuration("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIURL:            getEnvString("ZM_API_URL", ""),
		APIKey:            getEnvString("ZM_API_KEY", ""),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 5),
		RetryDelay:        getEnvDuration("RETRY_DELAY", 1500*time.Millisecond),
		UpstreamRPS:       getEnvFloat("UPSTREAM_RPS", 20),
		UpstreamBurst:     getEnvInt("UPSTREAM_BURST", 40),
		CDNHosts:          getEnvStringSlice("UPSTREAM_CDN_HOSTS", []string{"cdn.zm.io"}),
		ProxyLimit:        getEnvInt("PROXY_LIMIT", 200),
		ProxyStrictLimit:  getEnvInt("PROXY_STRICT_LIMIT", 50),
		RateWindow:        getEnvDuration("RATE_WINDOW", time.Hour),
		BotLongThreshold:  getEnvInt("BOT_LONG_THRESHOLD", 50),
		BotLongWindow:     getEnvDuration("BOT_LONG_WINDOW", 10*time.Minute),
		BotShortThreshold: getEnvInt("BOT_SHORT_THRESHOLD", 12),
		BotShortWindow:    getEnvDuration("BOT_SHORT_WINDOW", 10*time.Second),
		AllowedOrigins:    getEnvStringSlice("ALLOWED_ORIGINS", []string{"fsmvid.com", "www.fsmvid.com", "localhost"}),
		ResponseCacheTTL:  getEnvDuration("RESPONSE_CACHE_TTL", time.Hour),
		DataDir:           getEnvString("DATA_DIR", "data"),
		RedisAddr:         getEnvString("REDIS_ADDR", ""),
		RedisPassword:     getEnvString("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		GlobalProxy:       getEnvString("GLOBAL_PROXY", ""),
		LogLevel:          getEnvString("LOG_LEVEL", "info"),
		LogJSON:           getEnvBool("LOG_JSON", false),
		DebugMode:         getEnvBool("DEBUG_MODE", false),
	}

	if cfg.DebugMode {
		cfg.LogLevel = "debug"
	}

	return cfg
}

// Validate checks the upstream API configuration. A missing key or URL is an
// operator error, not a user error, so it is reported separately from Load.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("ZM_API_URL is not set")
	}
	if c.APIKey == "" {
		return fmt.Errorf("ZM_API_KEY is not set")
	}
	return nil
}

// APIKeyHint returns a redacted form of the API key safe for debug logs.
func (c *Config) APIKeyHint() string {
	if len(c.APIKey) <= 8 {
		return "****"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Try parsing as seconds first
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		// Try parsing as duration string
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
