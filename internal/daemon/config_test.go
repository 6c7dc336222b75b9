package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/studiomate/studiod/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8642 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8642)
	}
	if !cfg.Engine.DryRun {
		t.Error("Engine.DryRun should be true by default (opt-out)")
	}
	if cfg.Engine.CycleInterval.Duration != time.Minute {
		t.Errorf("Engine.CycleInterval = %v, want 1m", cfg.Engine.CycleInterval.Duration)
	}
	if cfg.Engine.MaxCombo != 5 {
		t.Errorf("Engine.MaxCombo = %d, want 5", cfg.Engine.MaxCombo)
	}
	if cfg.Bank.Lookback.Duration != 24*time.Hour {
		t.Errorf("Bank.Lookback = %v, want 24h", cfg.Bank.Lookback.Duration)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[api]
port = 9000

[engine]
cycle_interval = "30s"
dry_run = false

[notify]
studio = "Grand Piano Lab"

[rooms]
"Grand 1" = "IMPORTED"
"Upright A" = "DOMESTIC"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("unset keys must keep defaults, got host %q", cfg.API.Host)
	}
	if cfg.Engine.CycleInterval.Duration != 30*time.Second {
		t.Errorf("Engine.CycleInterval = %v, want 30s", cfg.Engine.CycleInterval.Duration)
	}
	if cfg.Engine.DryRun {
		t.Error("Engine.DryRun should be overridden to false")
	}
	if cfg.Notify.Studio != "Grand Piano Lab" {
		t.Errorf("Notify.Studio = %q", cfg.Notify.Studio)
	}

	categories := cfg.Categories()
	if categories.Of("Grand 1") != domain.CategoryImported {
		t.Errorf("Grand 1 category = %s, want IMPORTED", categories.Of("Grand 1"))
	}
	if categories.Of("Upright A") != domain.CategoryDomestic {
		t.Errorf("Upright A category = %s, want DOMESTIC", categories.Of("Upright A"))
	}
}

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig on missing file: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("missing file must keep defaults, got port %d", cfg.API.Port)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("STUDIOD_DATA_DIR", "/var/lib/studiod")
	t.Setenv("STUDIOD_SENDER_KEY", "sk-test")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.Path != filepath.Join("/var/lib/studiod", "studiod.db") {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Notify.SenderKey != "sk-test" {
		t.Errorf("Notify.SenderKey = %q, want sk-test", cfg.Notify.SenderKey)
	}
}
