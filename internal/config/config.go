// Package config holds the runtime configuration, read from JINGLESIG_*
// environment variables and overridden by command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/1ureka/jinglesig/internal/app"
	"github.com/1ureka/jinglesig/internal/transport"
)

// Config stores every tunable of the client and the relay.
type Config struct {
	// Client
	Host     string `env:"JINGLESIG_HOST"     envDefault:"127.0.0.1:5280"`
	JID      string `env:"JINGLESIG_JID"`
	Password string `env:"JINGLESIG_PASSWORD"`

	AutoAck       bool          `env:"JINGLESIG_AUTO_ACK"        envDefault:"true"`
	HashTimeout   time.Duration `env:"JINGLESIG_HASH_TIMEOUT"    envDefault:"0s"`
	StopTimeout   time.Duration `env:"JINGLESIG_STOP_TIMEOUT"    envDefault:"5s"`
	SendQueueSize int           `env:"JINGLESIG_SEND_QUEUE_SIZE" envDefault:"64"`
	STUNServers   []string      `env:"JINGLESIG_STUN_SERVERS"    envSeparator:","`

	// Relay
	Listen  string `env:"JINGLESIG_LISTEN"  envDefault:":5280"`
	Metrics bool   `env:"JINGLESIG_METRICS" envDefault:"false"`

	// Logging
	Debug         bool          `env:"JINGLESIG_DEBUG"          envDefault:"false"`
	StatsInterval time.Duration `env:"JINGLESIG_STATS_INTERVAL" envDefault:"0s"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads the configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	switch {
	case c.HashTimeout < 0:
		return fmt.Errorf("hash timeout must not be negative: %s", c.HashTimeout)
	case c.StopTimeout <= 0:
		return fmt.Errorf("stop timeout must be positive: %s", c.StopTimeout)
	case c.SendQueueSize <= 0:
		return fmt.Errorf("send queue size must be positive: %d", c.SendQueueSize)
	}
	return nil
}

// ClientOptions maps the configuration onto app options.
func (c *Config) ClientOptions() app.Options {
	return app.Options{
		AutoAck:     c.AutoAck,
		HashTimeout: c.HashTimeout,
		StopTimeout: c.StopTimeout,
	}
}

// TransportOptions maps the configuration onto transport options.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{SendQueueSize: c.SendQueueSize}
}
