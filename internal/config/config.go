// Package config loads the thingengine process configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/thingengine/internal/framer"
)

// Defaults applied by Load for fields the file leaves out.
const (
	DefaultEncoding        = "utf-8"
	DefaultFrontendAddr    = "127.0.0.1:3000"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the process configuration.
type Config struct {
	// DataDir is the engine's writable directory. Required.
	DataDir string `yaml:"data_dir"`

	// ControlPath is the control socket. Defaults to <data_dir>/control.
	ControlPath string `yaml:"control_path,omitempty"`

	// Encoding is the text encoding of the control channel, as a WHATWG
	// label. Defaults to utf-8.
	Encoding string `yaml:"encoding,omitempty"`

	// Database is the SQLite file. Defaults to <data_dir>/engine.db.
	Database string `yaml:"database,omitempty"`

	// Prefs is the preferences file. Defaults to <data_dir>/prefs.yaml.
	Prefs string `yaml:"prefs,omitempty"`

	Frontend Frontend `yaml:"frontend,omitempty"`

	// ShutdownTimeout bounds how long closing the engine and frontend may
	// take. Defaults to 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// Frontend configures the admin HTTP surface.
type Frontend struct {
	// Addr is the listen address. nil means the default; an empty string
	// disables the frontend.
	Addr *string `yaml:"addr,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// FrontendAddr returns the effective frontend address, "" when disabled.
func (c *Config) FrontendAddr() string {
	if c.Frontend.Addr == nil {
		return DefaultFrontendAddr
	}
	return *c.Frontend.Addr
}

// Load reads a YAML config file, expands ${VAR} references from the
// environment, applies defaults and validates the result.
// Unknown fields are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills empty fields. Paths default to entries under DataDir.
func (c *Config) ApplyDefaults() {
	if c.DataDir != "" {
		if c.ControlPath == "" {
			c.ControlPath = filepath.Join(c.DataDir, "control")
		}
		if c.Database == "" {
			c.Database = filepath.Join(c.DataDir, "engine.db")
		}
		if c.Prefs == "" {
			c.Prefs = filepath.Join(c.DataDir, "prefs.yaml")
		}
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ControlPath == "" {
		return fmt.Errorf("config: control_path is required")
	}
	if _, err := framer.LookupEncoding(c.Encoding); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown_timeout must not be negative")
	}
	return nil
}
