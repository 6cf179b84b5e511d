// Package config loads server and client settings from YAML files.
//
// Defaults are applied first and the file only overrides what it names.
// Durations are written as Go duration strings ("5s", "250ms").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Duration is a time.Duration read from a duration string.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(data []byte) error {
	var s string
	if err := yaml.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second"` // Zero disables the limiter
	Burst     int     `yaml:"burst"`
}

type ServerConfig struct {
	Network         string    `yaml:"network"`
	Address         string    `yaml:"address"`
	Compress        bool      `yaml:"compress"`
	Heartbeat       Duration  `yaml:"heartbeat"`
	HandlerTimeout  Duration  `yaml:"handler_timeout"` // Zero disables the timeout
	ShutdownTimeout Duration  `yaml:"shutdown_timeout"`
	RateLimit       RateLimit `yaml:"rate_limit"`
	Log             Log       `yaml:"log"`
}

type ClientConfig struct {
	Network     string   `yaml:"network"`
	Address     string   `yaml:"address"`
	Compress    bool     `yaml:"compress"`
	Heartbeat   Duration `yaml:"heartbeat"`
	DialTimeout Duration `yaml:"dial_timeout"`
	Log         Log      `yaml:"log"`
}

func DefaultServer() ServerConfig {
	return ServerConfig{
		Network:         "tcp",
		Address:         "127.0.0.1:9000",
		Heartbeat:       Duration(15 * time.Second),
		ShutdownTimeout: Duration(5 * time.Second),
		Log:             Log{Level: "info", Format: "console"},
	}
}

func DefaultClient() ClientConfig {
	return ClientConfig{
		Network:     "tcp",
		Address:     "127.0.0.1:9000",
		Heartbeat:   Duration(15 * time.Second),
		DialTimeout: Duration(5 * time.Second),
		Log:         Log{Level: "warn", Format: "console"},
	}
}

func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Network == "" || c.Address == "" {
		errs = append(errs, errors.New("network and address are required"))
	}
	if c.Heartbeat < 0 || c.HandlerTimeout < 0 {
		errs = append(errs, errors.New("heartbeat and handler_timeout must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.RateLimit.PerSecond < 0 || (c.RateLimit.PerSecond > 0 && c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit needs a positive burst when enabled"))
	}
	errs = append(errs, c.Log.validate())
	return wrap(errors.Join(errs...))
}

func (c *ClientConfig) Validate() error {
	var errs []error
	if c.Network == "" || c.Address == "" {
		errs = append(errs, errors.New("network and address are required"))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, errors.New("dial_timeout must be positive"))
	}
	errs = append(errs, c.Log.validate())
	return wrap(errors.Join(errs...))
}

func (l Log) validate() error {
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("config: %w", err)
}

// LoadServer reads path on top of DefaultServer. An empty path yields the
// defaults.
func LoadServer(path string) (ServerConfig, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads path on top of DefaultClient. An empty path yields the
// defaults.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func load(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, v, yaml.Strict()); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}
