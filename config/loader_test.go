package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderWatchReloadsOnWrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "connector.yaml")

	cfg := DefaultConfig()
	cfg.Apps = []AppConfig{{
		Name:  "demo",
		Flows: []FlowConfig{{Name: "main", Components: []ComponentConfig{{ComponentName: "passthrough"}}}},
	}}
	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loader := NewLoader(slog.Default())

	reloaded := make(chan *Config, 1)
	stop, err := loader.Watch(configPath, func(c *Config) {
		reloaded <- c
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer stop()

	cfg.InstanceName = "reloaded-instance"
	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	select {
	case got := <-reloaded:
		if got.InstanceName != "reloaded-instance" {
			t.Errorf("expected reloaded instance_name reloaded-instance, got %s", got.InstanceName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestLoaderWatchMissingDirReturnsError(t *testing.T) {
	loader := NewLoader(slog.Default())
	if _, err := loader.Watch(filepath.Join(os.TempDir(), "does-not-exist-dir-xyz", "connector.yaml"), func(*Config) {}); err == nil {
		t.Fatal("expected an error watching a nonexistent directory")
	}
}
