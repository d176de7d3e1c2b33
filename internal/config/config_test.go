package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FERLEY2004/QRRR-sub001/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"QRACCESS_ENV", "QRACCESS_STORE", "QRACCESS_HTTP_ADDR", "QRACCESS_GRPC_ADDR", "QRACCESS_SEED_DEV"} {
		t.Setenv(k, "")
	}

	cfg := config.FromEnv()
	if cfg.Env != "dev" {
		t.Errorf("expected env dev, got %q", cfg.Env)
	}
	if cfg.Store != "sqlite" {
		t.Errorf("expected store sqlite, got %q", cfg.Store)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("expected gRPC disabled, got %q", cfg.GRPCAddr)
	}
	if cfg.BusyTimeout != 5*time.Second {
		t.Errorf("expected 5s busy timeout, got %v", cfg.BusyTimeout)
	}
}

func TestFromEnv_UnknownValuesFailSoft(t *testing.T) {
	t.Setenv("QRACCESS_ENV", "staging")
	t.Setenv("QRACCESS_STORE", "postgres")

	cfg := config.FromEnv()
	if cfg.Env != "dev" || cfg.Store != "sqlite" {
		t.Errorf("expected dev/sqlite fallback, got %s/%s", cfg.Env, cfg.Store)
	}
}

func TestFromEnv_SeedOnlyInDev(t *testing.T) {
	t.Setenv("QRACCESS_SEED_DEV", "true")
	t.Setenv("QRACCESS_ENV", "prod")
	if config.FromEnv().SeedDev {
		t.Error("expected seeding disabled in prod")
	}
	t.Setenv("QRACCESS_ENV", "dev")
	if !config.FromEnv().SeedDev {
		t.Error("expected seeding enabled in dev")
	}
}

func TestLoadPolicy_DefaultsValidate(t *testing.T) {
	p, err := config.LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Visitor.Validity != 24*time.Hour {
		t.Errorf("expected 24h validity, got %v", p.Visitor.Validity)
	}
	if p.Detector.FailedLogin.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", p.Detector.FailedLogin.MaxAttempts)
	}
	if p.Location().String() != "America/Bogota" {
		t.Errorf("expected America/Bogota, got %s", p.Location())
	}
}

func TestLoadPolicy_YAMLOverlayAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	yml := `
timezone: UTC
visitor:
  validity: 12h
  expiring_window: 1h
schedule:
  administrative:
    start: "08:00"
    end: "17:30"
detector:
  frequent_access:
    window: 1h
    max_entries: 6
    high_at: 10
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("QRACCESS_FAILED_LOGIN_MAX_ATTEMPTS", "5")

	p, err := config.LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Visitor.Validity != 12*time.Hour {
		t.Errorf("expected 12h validity, got %v", p.Visitor.Validity)
	}
	if p.Schedule.Administrative.End != (config.ClockTime{Hour: 17, Minute: 30}) {
		t.Errorf("expected admin end 17:30, got %s", p.Schedule.Administrative.End)
	}
	if p.Detector.FrequentAccess.MaxEntries != 6 {
		t.Errorf("expected max_entries 6, got %d", p.Detector.FrequentAccess.MaxEntries)
	}
	if p.Detector.FailedLogin.MaxAttempts != 5 {
		t.Errorf("expected env override 5, got %d", p.Detector.FailedLogin.MaxAttempts)
	}
	// Untouched sections keep defaults.
	if p.Detector.Suspicious.MinAccesses != 5 {
		t.Errorf("expected default min_accesses 5, got %d", p.Detector.Suspicious.MinAccesses)
	}
	if _, ok := p.ShiftWindow("morning"); !ok {
		t.Error("expected default MORNING shift window")
	}
}

func TestLoadPolicy_RejectsInconsistentWindows(t *testing.T) {
	cases := map[string]string{
		"expiring window past validity": "visitor:\n  validity: 1h\n  expiring_window: 2h\n",
		"admin end before start":        "schedule:\n  administrative:\n    start: \"18:00\"\n    end: \"07:00\"\n",
		"bad clock time":                "schedule:\n  administrative:\n    start: \"7am\"\n    end: \"18:00\"\n",
		"high_at below max":             "detector:\n  frequent_access:\n    max_entries: 5\n    high_at: 3\n",
		"unknown shift":                 "schedule:\n  shifts:\n    WEEKEND:\n      start: \"08:00\"\n      end: \"12:00\"\n",
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := config.LoadPolicy(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate_WrapsErrInvalidPolicy(t *testing.T) {
	p := config.DefaultPolicy()
	p.Schedule.MaxOccupancyRatio = 1.5
	if err := p.Validate(); !errors.Is(err, config.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestWindow_ContainsWithTolerance(t *testing.T) {
	w := config.Window{Start: config.ClockTime{Hour: 6}, End: config.ClockTime{Hour: 12}}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		at   time.Duration
		want bool
	}{
		{5*time.Hour + 29*time.Minute, false},
		{5*time.Hour + 30*time.Minute, true},
		{11*time.Hour + 59*time.Minute, true},
		{12 * time.Hour, false},
	}
	for _, c := range cases {
		if got := w.Contains(day.Add(c.at), 30*time.Minute); got != c.want {
			t.Errorf("Contains(%v) = %v, want %v", c.at, got, c.want)
		}
	}
}
