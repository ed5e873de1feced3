package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.hybridmind/config.toml.
type Config struct {
	User      User      `toml:"user"`
	Gemini    Gemini    `toml:"gemini"`
	Engine    Engine    `toml:"engine"`
	Sync      Sync      `toml:"sync"`
	Network   Network   `toml:"network"`
	Retention Retention `toml:"retention"`
}

// User identifies the signed-in account the local store is scoped to.
type User struct {
	ID       string `toml:"id"`
	Verified bool   `toml:"verified"`
}

// Gemini configures the cloud inference backend.
type Gemini struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Engine configures the on-device inference server and its model assets.
type Engine struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	VisionModel    string `toml:"vision_model"`
	ModelName      string `toml:"model_name"`
	ModelURL       string `toml:"model_url"`
	VisionModelURL string `toml:"vision_model_url"`
}

// Sync configures remote replication. An empty project ID disables it.
type Sync struct {
	ProjectID string `toml:"project_id"`
}

// Network configures the connectivity prober.
type Network struct {
	ProbeAddr            string `toml:"probe_addr"`
	ProbeIntervalSeconds int    `toml:"probe_interval_seconds"`
}

// Retention configures the offline-session message pruner.
type Retention struct {
	Days          int `toml:"days"`
	IntervalHours int `toml:"interval_hours"`
}

// Default returns a config with usable defaults for everything but
// credentials and identity.
func Default() *Config {
	return &Config{
		Gemini: Gemini{Model: "gemini-2.5-flash"},
		Engine: Engine{
			BaseURL:   "http://127.0.0.1:11434",
			Model:     "gemma2:2b",
			ModelName: "gemma-2b-it-cpu-int4",
		},
		Network: Network{
			ProbeAddr:            "1.1.1.1:443",
			ProbeIntervalSeconds: 5,
		},
		Retention: Retention{Days: 90, IntervalHours: 24},
	}
}

// ProbeInterval returns the prober interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	if c.Network.ProbeIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Network.ProbeIntervalSeconds) * time.Second
}

// RetentionWindow returns the offline-message retention window.
func (c *Config) RetentionWindow() time.Duration {
	days := c.Retention.Days
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// PruneInterval returns how often the retention pruner runs.
func (c *Config) PruneInterval() time.Duration {
	hours := c.Retention.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Load reads config from the given path, overlaying the file on Default().
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
