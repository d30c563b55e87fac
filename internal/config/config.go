// Package config loads the service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config is the full service configuration. Every field has a sensible
// default so a bare `qnewt-server` starts without any environment set.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`

	HTTP struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}

	Solver struct {
		// MaxIterations bounds every run started through the API.
		MaxIterations int `env:"SOLVER_MAX_ITERATIONS" envDefault:"1000"`
		// FTol and GTol override the termination defaults when positive.
		FTol float64 `env:"SOLVER_F_TOL" envDefault:"0"`
		GTol float64 `env:"SOLVER_G_TOL" envDefault:"0"`
		// History is the secant-pair count for the limited-memory solvers.
		History int `env:"SOLVER_HISTORY" envDefault:"10"`
		// ConcurrentFD evaluates finite-difference probes on a goroutine pool.
		ConcurrentFD bool `env:"SOLVER_CONCURRENT_FD" envDefault:"false"`
		// MaxJobs caps the number of jobs retained in the registry.
		MaxJobs int `env:"SOLVER_MAX_JOBS" envDefault:"1024"`
	}
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Environment == "development" && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
