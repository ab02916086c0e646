package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Thresholds.AutoApprove != 95 || cfg.Thresholds.Review != 75 {
		t.Fatalf("unexpected thresholds %+v", cfg.Thresholds)
	}
	if cfg.Agent.PollFloor != 2*time.Second || cfg.Agent.PollCeiling != 30*time.Second {
		t.Fatalf("unexpected poll bounds %s %s", cfg.Agent.PollFloor, cfg.Agent.PollCeiling)
	}
	if cfg.Mode.SafeBelow != 60 || cfg.Mode.CrisisAt != 7 {
		t.Fatalf("unexpected mode policy %+v", cfg.Mode)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("thresholds:\n  auto_approve: 90\n  review: 70\nagent:\n  poll_floor: 1s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Thresholds.AutoApprove != 90 || cfg.Thresholds.Review != 70 {
		t.Fatalf("thresholds not applied: %+v", cfg.Thresholds)
	}
	if cfg.Agent.PollFloor != time.Second {
		t.Fatalf("poll floor not applied: %s", cfg.Agent.PollFloor)
	}
	if cfg.Agent.PollCeiling != 30*time.Second {
		t.Fatalf("default ceiling lost: %s", cfg.Agent.PollCeiling)
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	if _, err := FromYAML([]byte("thresholds:\n  auto_approve: 70\n  review: 80\n")); err == nil {
		t.Fatalf("expected error for review above auto_approve")
	}
	if _, err := FromYAML([]byte("agent:\n  poll_floor: 10s\n  poll_ceiling: 5s\n")); err == nil {
		t.Fatalf("expected error for ceiling below floor")
	}
	if _, err := FromYAML([]byte("notifications:\n  webhooks:\n    - id: a\n")); err == nil {
		t.Fatalf("expected error for webhook without url")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if cfg.Thresholds.AutoApprove != 95 {
		t.Fatalf("expected defaults when file missing")
	}
	if err := os.WriteFile(Path(dir), []byte("mode:\n  window: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode.Window != 5 {
		t.Fatalf("expected window 5, got %d", cfg.Mode.Window)
	}
}

func TestProviderStatusMasksKeys(t *testing.T) {
	cfg := Default()
	cfg.Providers.Primary.Endpoint = "http://scorer.local/score"
	t.Setenv("PROCUREIQ_PRIMARY_API_KEY", "secret-value")
	st := cfg.Status()
	if st["provider.primary"] != "configured" {
		t.Fatalf("unexpected primary status %q", st["provider.primary"])
	}
	if st["provider.fallback"] != "disabled" {
		t.Fatalf("unexpected fallback status %q", st["provider.fallback"])
	}
	for _, v := range st {
		if v == "secret-value" {
			t.Fatalf("status leaked key")
		}
	}
}
