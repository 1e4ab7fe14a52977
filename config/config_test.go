package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.InstanceName != "connector" {
		t.Errorf("expected default instance_name connector, got %s", cfg.InstanceName)
	}
	if cfg.Log.StdoutLogLevel != "INFO" {
		t.Errorf("expected default stdout log level INFO, got %s", cfg.Log.StdoutLogLevel)
	}
	if cfg.Cache.BackendType != "memory" {
		t.Errorf("expected default cache backend memory, got %s", cfg.Cache.BackendType)
	}
	if cfg.Monitoring.Interval != 30*time.Second {
		t.Errorf("expected default monitoring interval 30s, got %v", cfg.Monitoring.Interval)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Apps = []AppConfig{{
			Name:  "demo",
			Flows: []FlowConfig{{Name: "main", Components: []ComponentConfig{{ComponentName: "passthrough"}}}},
		}}
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config with one standard app",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing instance name",
			modify:  func(c *Config) { c.InstanceName = "" },
			wantErr: true,
		},
		{
			name:    "no apps or flows",
			modify:  func(c *Config) { c.Apps = nil },
			wantErr: true,
		},
		{
			name:    "app missing name",
			modify:  func(c *Config) { c.Apps[0].Name = "" },
			wantErr: true,
		},
		{
			name:    "app with neither flows nor simplified components",
			modify:  func(c *Config) { c.Apps[0].Flows = nil },
			wantErr: true,
		},
		{
			name: "simplified app is valid",
			modify: func(c *Config) {
				c.Apps[0].Flows = nil
				c.Apps[0].Broker = map[string]any{"type": "dev"}
				c.Apps[0].Components = []ComponentConfig{{ComponentName: "passthrough"}}
			},
			wantErr: false,
		},
		{
			name:    "unrecognized cache backend",
			modify:  func(c *Config) { c.Cache.BackendType = "redis" },
			wantErr: true,
		},
		{
			name:    "top-level flows without apps is valid",
			modify:  func(c *Config) { c.Apps = nil; c.Flows = []FlowConfig{{Name: "legacy"}} },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
instance_name: test-connector
log:
  stdout_log_level: DEBUG
cache:
  backend_type: sql
  connection_string: "file::memory:"
monitoring:
  interval: 10s
apps:
  - name: demo
    flows:
      - name: main
        components:
          - component_name: passthrough
            component_module: pass_through
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.InstanceName != "test-connector" {
		t.Errorf("expected instance_name test-connector, got %s", cfg.InstanceName)
	}
	if cfg.Log.StdoutLogLevel != "DEBUG" {
		t.Errorf("expected stdout log level DEBUG, got %s", cfg.Log.StdoutLogLevel)
	}
	if cfg.Cache.BackendType != "sql" {
		t.Errorf("expected cache backend sql, got %s", cfg.Cache.BackendType)
	}
	if cfg.Monitoring.Interval != 10*time.Second {
		t.Errorf("expected monitoring interval 10s, got %v", cfg.Monitoring.Interval)
	}
	if len(cfg.Apps) != 1 || cfg.Apps[0].Name != "demo" {
		t.Fatalf("expected one app named demo, got %+v", cfg.Apps)
	}
	if len(cfg.Apps[0].Flows) != 1 || len(cfg.Apps[0].Flows[0].Components) != 1 {
		t.Fatalf("expected one flow with one component, got %+v", cfg.Apps[0].Flows)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		InstanceName: "override-instance",
		Cache:        CacheConfig{BackendType: "sql"},
		Apps:         []AppConfig{{Name: "overridden"}},
	}

	base.Merge(override)

	if base.InstanceName != "override-instance" {
		t.Errorf("expected instance_name override-instance, got %s", base.InstanceName)
	}
	if base.Log.StdoutLogLevel != "INFO" {
		t.Errorf("expected stdout log level to remain default, got %s", base.Log.StdoutLogLevel)
	}
	if base.Cache.BackendType != "sql" {
		t.Errorf("expected cache backend sql, got %s", base.Cache.BackendType)
	}
	if len(base.Apps) != 1 || base.Apps[0].Name != "overridden" {
		t.Fatalf("expected apps to be replaced with override, got %+v", base.Apps)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.InstanceName = "saved-instance"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.InstanceName != "saved-instance" {
		t.Errorf("expected instance_name saved-instance, got %s", loaded.InstanceName)
	}
}
