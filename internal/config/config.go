package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env              string
	HTTPPort         string
	APIBaseURL       string
	RedisAddr        string
	RedisDB          int
	SessionBackend   string
	SessionTTL       time.Duration
	DatabaseURL      string
	FilterDebounce   time.Duration
	PageSize         int
	ViewerMaxWidth   int
	ViewerFraction   float64
	ViewerResize     time.Duration
	RateLimitPerMin  int
	WorkspaceIdleTTL time.Duration
	AllowedOrigins   []string
	DiagnosticsQueue bool
	DiagnosticsKey   string
}

// Load returns application config populated from environment variables with
// sensible defaults. A .env file in the working directory is read first;
// variables already set in the environment win over it.
func Load() App {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8082"),
		APIBaseURL:       getEnv("API_BASE_URL", "http://localhost:8000"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          intEnv("REDIS_DB", 0),
		SessionBackend:   getEnv("SESSION_BACKEND", "redis"),
		SessionTTL:       durationEnv("SESSION_TTL", 24*time.Hour),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		FilterDebounce:   durationEnv("FILTER_DEBOUNCE", 300*time.Millisecond),
		PageSize:         intEnv("PAGE_SIZE", 10),
		ViewerMaxWidth:   intEnv("VIEWER_MAX_WIDTH", 800),
		ViewerFraction:   floatEnv("VIEWER_WIDTH_FRACTION", 0.9),
		ViewerResize:     durationEnv("VIEWER_RESIZE_DEBOUNCE", 150*time.Millisecond),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 60),
		WorkspaceIdleTTL: durationEnv("WORKSPACE_IDLE_TTL", 30*time.Minute),
		AllowedOrigins:   listEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		DiagnosticsQueue: boolEnv("DIAGNOSTICS_QUEUE", false),
		DiagnosticsKey:   getEnv("DIAGNOSTICS_QUEUE_KEY", "portal:diagnostics"),
	}
}

// Validate reports settings the portal cannot start with.
func (a App) Validate() error {
	var errs []error
	if a.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	if a.SessionBackend != "redis" && a.SessionBackend != "memory" {
		errs = append(errs, fmt.Errorf("SESSION_BACKEND must be redis or memory, got %q", a.SessionBackend))
	}
	if a.DiagnosticsQueue && a.SessionBackend != "redis" {
		errs = append(errs, errors.New("DIAGNOSTICS_QUEUE needs SESSION_BACKEND=redis"))
	}
	if a.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", a.PageSize))
	}
	if a.ViewerFraction <= 0 || a.ViewerFraction > 1 {
		errs = append(errs, fmt.Errorf("VIEWER_WIDTH_FRACTION must be in (0,1], got %v", a.ViewerFraction))
	}
	return errors.Join(errs...)
}

// IsProd reports whether the portal runs in production.
func (a App) IsProd() bool { return a.Env == "prod" || a.Env == "production" }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("invalid duration, using fallback", "key", key, "error", err, "fallback", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		slog.Warn("invalid bool, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		slog.Warn("invalid int, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return parsed
		}
		slog.Warn("invalid float, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
