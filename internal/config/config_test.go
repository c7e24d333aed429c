package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drone.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 9079 || cfg.Address != "0.0.0.0" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ID == uuid.Nil {
		t.Error("Expected a generated ID")
	}
	if cfg.GraceDelay != 2*time.Second {
		t.Errorf("Expected 2s grace delay, got %v", cfg.GraceDelay)
	}
	if cfg.Path() != path {
		t.Errorf("Expected path %s, got %s", path, cfg.Path())
	}
}

func TestLoadOrNewPersistsID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "swarm", "drone.yaml")

	first, err := LoadOrNew(path)
	if err != nil {
		t.Fatalf("LoadOrNew failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	second, err := LoadOrNew(path)
	if err != nil {
		t.Fatalf("second LoadOrNew failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ID changed across loads: %s -> %s", first.ID, second.ID)
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drone.yaml")
	id := uuid.New()
	content := `swarm:
  id: ` + id.String() + `
  port: 9100
  codec: msgpack
  grace_delay: 500ms
  peers:
    - 10.0.0.7:9079
  bogus_key: ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ID != id {
		t.Errorf("Expected ID %s, got %s", id, cfg.ID)
	}
	if cfg.Port != 9100 || cfg.Codec != "msgpack" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.GraceDelay != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", cfg.GraceDelay)
	}
	if cfg.DBFile != "drone.db" {
		t.Errorf("default lost for unset key: %q", cfg.DBFile)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0] != "10.0.0.7:9079" {
		t.Errorf("unexpected peers: %v", cfg.Peers)
	}

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "bogus_key") {
		t.Error("unknown key survived write-back")
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drone.yaml")
	os.WriteFile(path, []byte("swarm: [not, a, map"), 0644)

	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Address = "" }},
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"unknown codec", func(c *Config) { c.Codec = "json" }},
		{"no threads", func(c *Config) { c.Threads = 0 }},
		{"no db file", func(c *Config) { c.DBFile = "" }},
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
