package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lorrc/service-desk-realtime/internal/core/services"
)

// Config holds all application configuration
type Config struct {
	// REST API configuration
	API APIConfig

	// Hub connection configuration
	Hub HubConfig

	// Access token configuration
	Auth AuthConfig

	// Local status server configuration
	Status StatusConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// APIConfig holds the backend REST configuration
type APIConfig struct {
	URL            string
	Timeout        time.Duration
	PageSize       int
	RateLimitRPS   float64
	RateLimitBurst int
	RetryAttempts  uint
	RetryDelay     time.Duration
	AcceptLanguage string
}

// HubConfig holds SignalR hub configuration
type HubConfig struct {
	BaseURL           string // optional, defaults to API.URL
	NotificationsPath string
	TicketsPath       string
	ReconnectDelays   []time.Duration
	CandidateTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	HandshakeTimeout  time.Duration
}

// AuthConfig holds access token configuration
type AuthConfig struct {
	Token          string
	TokenFile      string
	ReloadInterval time.Duration
}

// StatusConfig holds the status HTTP server configuration
type StatusConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load loads configuration from environment variables. envFiles are
// loaded first when present; a missing .env is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from the process environment without
// validating it.
func FromEnv() *Config {
	return &Config{
		API: APIConfig{
			URL:            strings.TrimSpace(os.Getenv("API_URL")),
			Timeout:        getDurationOrDefault("REST_TIMEOUT", 30*time.Second),
			PageSize:       getIntOrDefault("REST_PAGE_SIZE", 100),
			RateLimitRPS:   getFloatOrDefault("REST_RATE_LIMIT_RPS", 10),
			RateLimitBurst: getIntOrDefault("REST_RATE_LIMIT_BURST", 20),
			RetryAttempts:  uint(getIntOrDefault("REST_RETRY_ATTEMPTS", 3)),
			RetryDelay:     getDurationOrDefault("REST_RETRY_DELAY", 500*time.Millisecond),
			AcceptLanguage: getEnvOrDefault("ACCEPT_LANGUAGE", "UZ"),
		},
		Hub: HubConfig{
			BaseURL:           strings.TrimSpace(os.Getenv("HUB_BASE_URL")),
			NotificationsPath: getEnvOrDefault("HUB_NOTIFICATIONS_PATH", "/hubs/notifications"),
			TicketsPath:       getEnvOrDefault("HUB_TICKETS_PATH", "/hubs/tickets"),
			ReconnectDelays:   getDurationSliceOrDefault("REALTIME_RECONNECT_DELAYS", services.DefaultReconnectDelays),
			CandidateTimeout:  getDurationOrDefault("REALTIME_CANDIDATE_TIMEOUT", 0),
			KeepAliveInterval: getDurationOrDefault("REALTIME_KEEPALIVE_INTERVAL", 15*time.Second),
			ServerTimeout:     getDurationOrDefault("REALTIME_SERVER_TIMEOUT", 30*time.Second),
			HandshakeTimeout:  getDurationOrDefault("REALTIME_HANDSHAKE_TIMEOUT", 15*time.Second),
		},
		Auth: AuthConfig{
			Token:          strings.TrimSpace(os.Getenv("AUTH_TOKEN")),
			TokenFile:      strings.TrimSpace(os.Getenv("AUTH_TOKEN_FILE")),
			ReloadInterval: getDurationOrDefault("AUTH_TOKEN_RELOAD_INTERVAL", 30*time.Second),
		},
		Status: StatusConfig{
			Addr:            getEnvOrDefault("STATUS_ADDR", "127.0.0.1:8089"),
			AllowedOrigins:  getStringSliceOrDefault("STATUS_ALLOWED_ORIGINS", []string{}),
			ReadTimeout:     getDurationOrDefault("STATUS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("STATUS_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDurationOrDefault("STATUS_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "service-desk-realtime"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.API.URL == "" {
		errs = append(errs, "API_URL is required")
	} else if !isHTTPURL(c.API.URL) {
		errs = append(errs, "API_URL must be an absolute http(s) URL")
	}

	if c.Hub.BaseURL != "" && !isHTTPURL(c.Hub.BaseURL) {
		errs = append(errs, "HUB_BASE_URL must be an absolute http(s) URL")
	}

	if c.Auth.Token != "" && c.Auth.TokenFile != "" {
		errs = append(errs, "set only one of AUTH_TOKEN and AUTH_TOKEN_FILE")
	}

	// Logical validations
	if c.API.PageSize < 1 {
		errs = append(errs, "REST_PAGE_SIZE must be positive")
	}

	if c.API.RateLimitRPS < 0 {
		errs = append(errs, "REST_RATE_LIMIT_RPS cannot be negative")
	}

	for _, d := range c.Hub.ReconnectDelays {
		if d < 0 {
			errs = append(errs, "REALTIME_RECONNECT_DELAYS cannot contain negative delays")
			break
		}
	}

	if c.Hub.KeepAliveInterval > 0 && c.Hub.ServerTimeout > 0 && c.Hub.ServerTimeout < 2*c.Hub.KeepAliveInterval {
		errs = append(errs, "REALTIME_SERVER_TIMEOUT should be at least twice REALTIME_KEEPALIVE_INTERVAL")
	}

	// Security validations
	if c.IsProduction() && strings.HasPrefix(c.API.URL, "http://") {
		errs = append(errs, "API_URL must use https in production")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// HubBaseURL returns the URL hub candidates are built from.
func (c *Config) HubBaseURL() string {
	if c.Hub.BaseURL != "" {
		return c.Hub.BaseURL
	}
	return c.API.URL
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getDurationSliceOrDefault parses a comma separated list such as
// "0s,2s,5s". "none" yields an empty schedule.
func getDurationSliceOrDefault(key string, defaultValue []time.Duration) []time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]time.Duration(nil), defaultValue...)
	}
	if strings.EqualFold(value, "none") {
		return []time.Duration{}
	}
	parts := strings.Split(value, ",")
	result := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		result = append(result, d)
	}
	return result
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{API: %s, Hub: %s, Token: %s, Status: %s, Environment: %s}",
		c.API.URL,
		c.HubBaseURL(),
		redactToken(c.Auth),
		c.Status.Addr,
		c.App.Environment,
	)
}

// redactToken describes where the token comes from without revealing it
func redactToken(a AuthConfig) string {
	switch {
	case a.Token != "":
		return "[REDACTED]"
	case a.TokenFile != "":
		return "file:" + a.TokenFile
	default:
		return "none"
	}
}
