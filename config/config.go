/*
Package config loads server configuration from the environment.

Command-line flags in cmd/server override the environment for the
values both provide (port, database path), which keeps local runs
ergonomic while deployments stay twelve-factor.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DATABASE_PATH" envDefault:"loyalty.db"`

	// Background work
	ScheduleInterval time.Duration `env:"SCHEDULE_CHECK_INTERVAL" envDefault:"1h"`
	ReaperInterval   time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// Seed rules loaded at startup (YAML file; empty = none)
	RulesFile string `env:"RULES_FILE"`

	// Tracing
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
	JaegerEndpoint string `env:"JAEGER_ENDPOINT" envDefault:"http://localhost:14268/api/traces"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
