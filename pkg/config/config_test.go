package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultUsedWhenFileMissing(t *testing.T) {
	cfg, warnings := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %v", warnings)
	}
	if cfg.BaudRate != DefaultBaudRate || cfg.TimeoutMS != DefaultTimeoutMS {
		t.Fatalf("expected defaults on missing file, got %+v", cfg)
	}
}

func TestDefaultUsedWhenFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, warnings := Load(path)
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning for malformed json, got %v", warnings)
	}
	if cfg != Default() {
		t.Fatalf("expected Default() on malformed json, got %+v", cfg)
	}
}

func TestPartialConfigFillsMissingFieldsWithWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"incoming_port": "COM12", "baud_rate": -1, "log_level": "noisy"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, warnings := Load(path)
	if cfg.IncomingPort != "COM12" {
		t.Fatalf("expected incoming_port preserved, got %q", cfg.IncomingPort)
	}
	if cfg.BaudRate != DefaultBaudRate {
		t.Fatalf("expected invalid baud_rate to fall back to default, got %d", cfg.BaudRate)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected invalid log_level to fall back to default, got %q", cfg.LogLevel)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected warnings for baud_rate and log_level, got %v", warnings)
	}
}

func TestFullyValidConfigProducesNoWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"incoming_port": "COM12", "baud_rate": 9600, "timeout_ms": 50, "retry_delay_max_s": 15, "log_level": "debug"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, warnings := Load(path)
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings for a fully valid config, got %v", warnings)
	}
	if cfg.BaudRate != 9600 || cfg.TimeoutMS != 50 || cfg.RetryDelayMaxS != 15 || cfg.LogLevel != "debug" {
		t.Fatalf("expected every field to carry through unchanged, got %+v", cfg)
	}
}
