package config

import (
	"testing"
	"time"
)

func TestGetEnvDefaults(t *testing.T) {
	t.Setenv("CFG_TEST_STR", "")
	if got := GetEnv("CFG_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	t.Setenv("CFG_TEST_STR", "  value  ")
	if got := GetEnv("CFG_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "42")
	if got := GetEnvInt("CFG_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("CFG_TEST_INT", "not-a-number")
	if got := GetEnvInt("CFG_TEST_INT", 7); got != 7 {
		t.Fatalf("bad value must fall back, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CFG_TEST_DUR", "45s")
	if got := GetEnvDuration("CFG_TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}
	// Plain seconds are accepted too.
	t.Setenv("CFG_TEST_DUR", "30")
	if got := GetEnvDuration("CFG_TEST_DUR", time.Second); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}

func TestGetEnvCSV(t *testing.T) {
	t.Setenv("CFG_TEST_CSV", "a, b ,,c")
	got := GetEnvCSV("CFG_TEST_CSV", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected csv parse: %v", got)
	}
}

func TestLoadCommonRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadCommon("test", 8000); err == nil {
		t.Fatal("missing JWT_SECRET must fail")
	}

	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadCommon("test", 8000)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("default timeout must be 30s, got %s", cfg.RequestTimeout)
	}
	if cfg.DBPoolMax != 100 || cfg.DBPoolMin != 10 {
		t.Fatalf("default pool sizes wrong: %d/%d", cfg.DBPoolMax, cfg.DBPoolMin)
	}
	if cfg.ConsumeMaxRetries != 5 || cfg.AlertCooldownSeconds != 60 {
		t.Fatalf("default retry/cooldown wrong: %d/%d", cfg.ConsumeMaxRetries, cfg.AlertCooldownSeconds)
	}
}
