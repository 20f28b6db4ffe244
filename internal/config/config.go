// Package config loads pushctl configuration from YAML.
package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the pushctl configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the push server endpoint
type ServerConfig struct {
	Address   string        `yaml:"address"`
	Transport string        `yaml:"transport"`
	WSPath    string        `yaml:"ws_path"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ClientConfig holds protocol settings
type ClientConfig struct {
	UID           string        `yaml:"uid"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
	MaxBodyLength uint32        `yaml:"max_body_length"`
	CloseTimeout  time.Duration `yaml:"close_timeout"`
}

// ReconnectConfig holds the reconnect backoff
type ReconnectConfig struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the metrics endpoint; empty address disables it
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Transports understood by pushctl.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:   "127.0.0.1:12345",
			Transport: TransportTCP,
			WSPath:    "/push",
			Timeout:   10 * time.Second,
		},
		Client: ClientConfig{
			Heartbeat:     30 * time.Second,
			MaxBodyLength: 1024 * 1024,
			CloseTimeout:  5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Min:    250 * time.Millisecond,
			Max:    30 * time.Second,
			Factor: 2.0,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return cfg, nil
}

// Validate checks the configuration for values pushctl cannot use.
func (c *Config) Validate() error {
	if _, _, err := c.HostPort(); err != nil {
		return err
	}
	switch c.Server.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return errors.Errorf("unknown transport %q", c.Server.Transport)
	}
	if c.Client.Heartbeat < 0 {
		return errors.New("heartbeat must not be negative")
	}
	if c.Reconnect.Min <= 0 || c.Reconnect.Max < c.Reconnect.Min {
		return errors.Errorf("invalid reconnect window %s..%s", c.Reconnect.Min, c.Reconnect.Max)
	}
	return nil
}

// HostPort splits the server address.
func (c *Config) HostPort() (string, int, error) {
	host, portStr, err := net.SplitHostPort(c.Server.Address)
	if err != nil {
		return "", 0, errors.Wrapf(err, "server address %q", c.Server.Address)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, errors.Errorf("server address %q: invalid port", c.Server.Address)
	}
	return host, port, nil
}
