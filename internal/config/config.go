// Package config loads the tunable parameters from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config lists the tunable parameters for the geochat server.
type Config struct {
	SocketBindAddress string `env:"GEOCHAT_SOCKET_BIND" envDefault:":8888"`
	HTTPPort          int    `env:"GEOCHAT_HTTP_PORT" envDefault:"8080"`
	MetricsPort       int    `env:"GEOCHAT_METRICS_PORT" envDefault:"9090"`
	DatabasePath      string `env:"GEOCHAT_DATABASE_PATH" envDefault:"data/geochat.db"`
	LogLevel          string `env:"GEOCHAT_LOG_LEVEL" envDefault:"info"`

	BrokerHost string `env:"RABBITMQ_HOST" envDefault:"localhost"`
	BrokerPort int    `env:"RABBITMQ_PORT" envDefault:"5672"`
	BrokerUser string `env:"RABBITMQ_USER" envDefault:"geochat"`
	BrokerPass string `env:"RABBITMQ_PASS" envDefault:"geochat123"`

	DefaultLatitude  float64 `env:"DEFAULT_LATITUDE" envDefault:"-23.5505"`
	DefaultLongitude float64 `env:"DEFAULT_LONGITUDE" envDefault:"-46.6333"`
	DefaultRadius    float64 `env:"DEFAULT_RADIUS" envDefault:"1000"`

	MDNSEnabled bool `env:"GEOCHAT_MDNS_ENABLED" envDefault:"true"`
}

// Load derives configuration values from environment variables, falling back
// to defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// BrokerURL returns the AMQP connection URL.
func (c Config) BrokerURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.BrokerUser, c.BrokerPass, c.BrokerHost, c.BrokerPort)
}
