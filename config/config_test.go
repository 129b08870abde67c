package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPUTEFLOW_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost/disputes")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LEDGER_BASE_URL", "http://ledger.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Policy.PanelSize != 5 {
		t.Fatalf("expected default panel size 5, got %d", cfg.Policy.PanelSize)
	}
	if cfg.Policy.Tier2Window != 48*time.Hour || cfg.Policy.Tier3Window != 72*time.Hour {
		t.Fatalf("unexpected tier windows: %v %v", cfg.Policy.Tier2Window, cfg.Policy.Tier3Window)
	}
	if cfg.Reconciler.Interval != 5*time.Minute {
		t.Fatalf("expected 5m reconciler interval, got %v", cfg.Reconciler.Interval)
	}
}

func TestLoad_RejectsEvenPanel(t *testing.T) {
	t.Setenv("DISPUTEFLOW_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost/disputes")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LEDGER_BASE_URL", "http://ledger.local")
	t.Setenv("JURY_PANEL_SIZE", "4")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for even panel size")
	}
	if !strings.Contains(err.Error(), "odd") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("DISPUTEFLOW_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost/disputes")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LEDGER_BASE_URL", "http://ledger.local")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is empty")
	}
}
