// Package config loads the application configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soypete/beamdecode/pkg/beam"
	"github.com/soypete/beamdecode/pkg/database"
)

// Config is the top-level configuration for the decode binaries.
type Config struct {
	Decode   beam.Config      `json:"decode"`
	Vocab    VocabConfig      `json:"vocab"`
	Server   ServerConfig     `json:"server"`
	Database *database.Config `json:"database,omitempty"`
	Debug    DebugConfig      `json:"debug"`
}

// VocabConfig locates the vocabulary file.
type VocabConfig struct {
	// Path points to a vocabulary file: one word per line, or a JSON
	// array when Format is "json".
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
}

// ServerConfig contains the decode server settings.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// DebugConfig contains debug settings.
type DebugConfig struct {
	Enabled  bool   `json:"enabled"`
	LogLevel string `json:"log_level"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadDefault looks for .beamdecode.json in the current directory, then in
// the home directory. A missing file is not an error: the defaults apply.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(".beamdecode.json"); err == nil {
		return Load(".beamdecode.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homePath := filepath.Join(home, ".beamdecode.json")
		if _, err := os.Stat(homePath); err == nil {
			return Load(homePath)
		}
	}

	config := &Config{}
	config.setDefaults()
	return config, nil
}

// setDefaults fills in defaults for unset fields.
func (c *Config) setDefaults() {
	if c.Decode.BeamWidth == 0 && c.Decode.MaxSteps == 0 {
		c.Decode = *beam.DefaultConfig()
	}
	if c.Vocab.Format == "" {
		c.Vocab.Format = "text"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Debug.LogLevel == "" {
		c.Debug.LogLevel = "info"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Decode.Validate(); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if c.Vocab.Format != "text" && c.Vocab.Format != "json" {
		return fmt.Errorf("invalid vocab format: %s (must be 'text' or 'json')", c.Vocab.Format)
	}
	return nil
}
