// Host configuration
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the host configuration, loaded from a YAML file with
// environment variable overrides on top.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig selects and tunes the instrument connection.
type TransportConfig struct {
	// Resource is the instrument address: usbtmc:/dev/usbtmc0,
	// serial:/dev/ttyUSB0, usb:1ab1:04ce, or tcp:host:5555. Empty
	// means discover.
	Resource string `yaml:"resource"`

	ReadTimeout    Duration `yaml:"read_timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	BaudRate       int      `yaml:"baud_rate"`
}

// APIConfig tunes the HTTP/websocket API server.
type APIConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

// LogConfig tunes log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// File enables logging to a rotating file instead of stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file and applies defaults and
// environment overrides. A missing file is an error; use Default when
// running without one.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.ReadTimeout == 0 {
		c.Transport.ReadTimeout = Duration(2 * time.Second)
	}
	if c.Transport.ConnectTimeout == 0 {
		c.Transport.ConnectTimeout = Duration(5 * time.Second)
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = 115200
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}

	c.applyEnv()
}

// applyEnv layers environment overrides on top of file values. The
// environment wins so a deployment can repoint a shared config without
// editing it.
func (c *Config) applyEnv() {
	if v := os.Getenv("SCOPECTL_RESOURCE"); v != "" {
		c.Transport.Resource = v
	}
	if v := os.Getenv("SCOPECTL_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("SCOPECTL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SCOPECTL_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Transport.ReadTimeout < 0 || c.Transport.ConnectTimeout < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Transport.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be positive")
	}
	return nil
}
