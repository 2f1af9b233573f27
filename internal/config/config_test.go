package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7466" || cfg.ChatWindow != 200 {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("listen: \"0.0.0.0:9000\"\ntokens:\n  warning: 100000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Expected overridden listen, got %s", cfg.Listen)
	}
	if cfg.Tokens.Warning != 100_000 {
		t.Errorf("Expected overridden warning, got %d", cfg.Tokens.Warning)
	}
	// Fields the file zeroed out are re-filled.
	if cfg.Tokens.Critical != 195_000 || cfg.ChatWindow != 200 {
		t.Errorf("Expected defaults back-filled, got %+v", cfg)
	}
	if cfg.BurnRateSmoothing != 0.7 {
		t.Errorf("Expected default smoothing, got %v", cfg.BurnRateSmoothing)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}
