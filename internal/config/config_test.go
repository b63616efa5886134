package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FILTER_DEBOUNCE", "")
	t.Setenv("PAGE_SIZE", "")
	cfg := Load()
	if cfg.FilterDebounce != 300*time.Millisecond || cfg.PageSize != 10 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.ViewerMaxWidth != 800 || cfg.ViewerFraction != 0.9 || cfg.ViewerResize != 150*time.Millisecond {
		t.Fatalf("viewer defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("VIEWER_WIDTH_FRACTION", "0.75")
	t.Setenv("ALLOWED_ORIGINS", "https://portal.example, https://admin.example ,")
	t.Setenv("SESSION_TTL", "nonsense")
	t.Setenv("PAGE_SIZE", "25")

	cfg := Load()
	if cfg.SessionBackend != "memory" || cfg.ViewerFraction != 0.75 || cfg.PageSize != 25 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example" {
		t.Fatalf("origins = %q", cfg.AllowedOrigins)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("invalid duration should fall back, got %s", cfg.SessionTTL)
	}
}

func TestValidate(t *testing.T) {
	cfg := App{APIBaseURL: "", SessionBackend: "etcd", PageSize: 0, ViewerFraction: 1.5}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected errors")
	}
}

func TestValidate_QueueNeedsRedis(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("DIAGNOSTICS_QUEUE", "true")
	if err := Load().Validate(); err == nil {
		t.Fatal("queue without redis should be rejected")
	}
}

func TestLoad_InvalidValuesAreLoggedAndFallBack(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Setenv("PAGE_SIZE", "ten")
	t.Setenv("FILTER_DEBOUNCE", "soon")

	cfg := Load()
	if cfg.PageSize != 10 || cfg.FilterDebounce != 300*time.Millisecond {
		t.Fatalf("fallbacks not applied: page size %d, debounce %s", cfg.PageSize, cfg.FilterDebounce)
	}
	out := logs.String()
	for _, want := range []string{"level=WARN", "invalid int", "key=PAGE_SIZE", "invalid duration", "key=FILTER_DEBOUNCE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
