package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config mirrors ~/.quickdist/config.json. Every field is optional; a
// missing or partial file is not an error.
type Config struct {
	Workdir  string            `json:"workdir,omitempty"`
	Workdirs map[string]string `json:"workdirs,omitempty"`
	Localdir string            `json:"localdir,omitempty"`
	Tempdir  string            `json:"tempdir,omitempty"`
}

// Dir returns the quickdist state directory under the user's home.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".quickdist")
}

// Path returns the configuration file location.
func Path() string {
	return filepath.Join(Dir(), "config.json")
}

// Load reads the configuration file. Missing or malformed files yield an
// empty configuration.
func Load() *Config {
	cfg := &Config{}
	data, err := os.ReadFile(Path())
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return &Config{}
	}
	return cfg
}

// Save writes the configuration file, creating the state directory.
func (c *Config) Save() error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(Path(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// WorkdirFor returns the configured workdir for an origin tag, or "" when
// unset. An empty tag selects the root workdir.
func (c *Config) WorkdirFor(origin string) string {
	if origin == "" {
		return c.Workdir
	}
	for tag, path := range c.Workdirs {
		if strings.EqualFold(tag, origin) {
			return path
		}
	}
	return ""
}
