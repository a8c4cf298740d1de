package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. CONTOUR_OVERSAMPLING.
const Prefix = "CONTOUR"

type Config struct {
	Oversampling float64       `envconfig:"OVERSAMPLING" default:"2.0"`
	Decimation   float64       `envconfig:"DECIMATION" default:"0.0"`
	MeshCells    int           `envconfig:"MESH_CELLS" default:"64"`
	DBPath       string        `envconfig:"DB_PATH" default:""`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	EvalTimeout  time.Duration `envconfig:"EVAL_TIMEOUT" default:"30s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value domains.
func (c *Config) Validate() error {
	if c.Oversampling < 0.01 || c.Oversampling > 100 {
		return fmt.Errorf("config: oversampling %g outside [0.01, 100]", c.Oversampling)
	}
	if c.Decimation < 0 || c.Decimation >= 1 {
		return fmt.Errorf("config: decimation %g outside [0, 1)", c.Decimation)
	}
	if c.MeshCells < 2 {
		return fmt.Errorf("config: mesh cells must be at least 2, got %d", c.MeshCells)
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("config: eval timeout must be positive, got %s", c.EvalTimeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return lvl, nil
}
