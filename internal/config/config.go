// Package config holds the resolved drone configuration and its YAML file
// persistence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the drone looks for its config file.
const DefaultPath = "data/etc/swarm/drone.yaml"

// Config is the resolved record the drone core consumes.
type Config struct {
	// ID is this drone's identity. A fresh one is generated and written
	// back on first start.
	ID uuid.UUID `yaml:"id"`

	// Address and Port are the inter-drone listen endpoint.
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	DBDir  string `yaml:"db_dir"`
	DBFile string `yaml:"db_file"`

	LogDir    string `yaml:"log_dir"`
	ErrorLog  string `yaml:"error_log"`
	SystemLog string `yaml:"system_log"`

	// Codec selects the peer envelope encoding: cbor or msgpack.
	Codec string `yaml:"codec"`

	Tags    []string `yaml:"tags,omitempty"`
	Threads int      `yaml:"threads"`

	// GraceDelay is how long the drone lingers after Stop before exiting.
	GraceDelay time.Duration `yaml:"grace_delay"`

	// Peers are seed drones (host:port) announced to at startup.
	Peers []string `yaml:"peers,omitempty"`

	// path is the file this config was loaded from.
	path string
}

// file is the on-disk layout: every key lives under a swarm section.
type file struct {
	Swarm *Config `yaml:"swarm"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		ID:         uuid.New(),
		Address:    "0.0.0.0",
		Port:       9079,
		DBDir:      "data/usr/local/swarm",
		DBFile:     "drone.db",
		LogDir:     "data/var/log/swarm",
		ErrorLog:   "error.log",
		SystemLog:  "system.log",
		Codec:      "cbor",
		Threads:    1,
		GraceDelay: 2 * time.Second,
	}
}

// LoadConfig reads path, overlaying its swarm section on the defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &file{Swarm: cfg}); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrNew loads path and writes the result back, so a generated ID
// survives restarts and unknown keys are dropped.
func LoadOrNew(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}
	return SaveConfig(c.path, c)
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SaveConfig saves configuration to a YAML file, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(&file{Swarm: cfg})
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBDir == "" || c.DBFile == "" {
		return fmt.Errorf("db_dir and db_file must be set")
	}
	if c.LogDir == "" || c.ErrorLog == "" || c.SystemLog == "" {
		return fmt.Errorf("log_dir, error_log and system_log must be set")
	}

	validCodecs := map[string]bool{
		"cbor":    true,
		"msgpack": true,
	}
	if !validCodecs[c.Codec] {
		return fmt.Errorf("invalid codec %q, must be: cbor or msgpack", c.Codec)
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.GraceDelay < 0 {
		return fmt.Errorf("grace_delay must not be negative")
	}
	return nil
}

// ListenAddr returns the inter-drone listen address in host:port form.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}
