// Package config loads the process configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	Debug      bool   `env:"DEBUG"`

	RedisConnectionString string `env:"REDIS_CONNECTION_STRING,required"`

	Auth0Domain   string `env:"AUTH0_DOMAIN"`
	Auth0Audience string `env:"AUTH0_AUDIENCE"`

	EventsChannel    string  `env:"DISPATCH_EVENTS_CHANNEL" envDefault:"dispatch:events"`
	DispatchRadiusKm float64 `env:"DISPATCH_RADIUS_KM" envDefault:"50"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitBudget int           `env:"RATE_LIMIT_BUDGET" envDefault:"60"`

	NotificationTTL time.Duration `env:"NOTIFICATION_TTL" envDefault:"168h"`
	SendBuffer      int           `env:"SEND_BUFFER" envDefault:"64"`
}

func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
