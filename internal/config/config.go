package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/gridfit/internal/logging"
	"github.com/copyleftdev/gridfit/internal/optimization/executor"
	"github.com/copyleftdev/gridfit/internal/optimization/gridsearch"
	"github.com/copyleftdev/gridfit/internal/optimization/selection"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Fit struct {
		Backend         string        `env:"FIT_BACKEND" envDefault:"pool"`
		Workers         int           `env:"FIT_WORKERS" envDefault:"0"`
		BlockSize       int           `env:"FIT_BLOCK_SIZE" envDefault:"4096"`
		DispatchSlots   int64         `env:"FIT_DISPATCH_SLOTS" envDefault:"2"`
		MaxCandidates   uint64        `env:"FIT_MAX_CANDIDATES" envDefault:"33554432"`
		DispatchTimeout time.Duration `env:"FIT_DISPATCH_TIMEOUT" envDefault:"2m"`
		DisableFallback bool          `env:"FIT_DISABLE_FALLBACK" envDefault:"false"`
		Refinement      string        `env:"FIT_REFINEMENT" envDefault:"none"`
		HalfWidth       float64       `env:"FIT_REFINE_HALF_WIDTH" envDefault:"1.0"`
		FineResolution  uint32        `env:"FIT_REFINE_RESOLUTION" envDefault:"64"`
		MaxIterations   int           `env:"FIT_MAX_ITERATIONS" envDefault:"64"`
		Threshold       float64       `env:"FIT_THRESHOLD" envDefault:"1e-9"`
		Shrink          float64       `env:"FIT_SHRINK" envDefault:"0.5"`
	}
	Server struct {
		SubmitRate  float64 `env:"SERVER_SUBMIT_RATE" envDefault:"5"`
		SubmitBurst int     `env:"SERVER_SUBMIT_BURST" envDefault:"10"`
		// Finished jobs are dropped after JobTTL, and beyond MaxFinishedJobs
		// the oldest go first. Zero disables either bound.
		JobTTL          time.Duration `env:"SERVER_JOB_TTL" envDefault:"1h"`
		MaxFinishedJobs int           `env:"SERVER_MAX_FINISHED_JOBS" envDefault:"1000"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env cannot check on its own.
func (c *Config) Validate() error {
	if _, err := gridsearch.ParseRefinement(c.Fit.Refinement); err != nil {
		return fmt.Errorf("FIT_REFINEMENT: %w", err)
	}
	if _, err := executor.New(c.Fit.Backend, executor.Options{}); err != nil {
		return fmt.Errorf("FIT_BACKEND: %w", err)
	}
	if c.Fit.Shrink <= 0 || c.Fit.Shrink >= 1 {
		return fmt.Errorf("FIT_SHRINK must be in (0, 1), got %v", c.Fit.Shrink)
	}
	if err := c.LoggingConfig().Validate(); err != nil {
		return fmt.Errorf("LOG_LEVEL/LOG_FORMAT: %w", err)
	}
	if c.Server.JobTTL < 0 || c.Server.MaxFinishedJobs < 0 {
		return fmt.Errorf("SERVER_JOB_TTL and SERVER_MAX_FINISHED_JOBS must not be negative")
	}
	if c.Server.SubmitRate < 0 {
		return fmt.Errorf("SERVER_SUBMIT_RATE must not be negative, got %v", c.Server.SubmitRate)
	}
	return nil
}

// LoggingConfig returns the logger settings. Development environments get
// zap's development mode.
func (c *Config) LoggingConfig() *logging.Config {
	return &logging.Config{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		Output:      c.Logging.Output,
		Development: c.Environment == "development",
	}
}

// RunConfig converts the fit settings into an engine configuration.
func (c *Config) RunConfig() gridsearch.RunConfig {
	refinement, err := gridsearch.ParseRefinement(c.Fit.Refinement)
	if err != nil {
		refinement = gridsearch.RefineNone
	}
	return gridsearch.RunConfig{
		Backend:         string(executor.NormalizeBackend(c.Fit.Backend)),
		Workers:         c.Fit.Workers,
		BlockSize:       c.Fit.BlockSize,
		DispatchSlots:   c.Fit.DispatchSlots,
		MaxCandidates:   c.Fit.MaxCandidates,
		DispatchTimeout: c.Fit.DispatchTimeout,
		DisableFallback: c.Fit.DisableFallback,
		Refinement:      refinement,
		HalfWidth:       c.Fit.HalfWidth,
		FineResolution:  c.Fit.FineResolution,
		Iterative: selection.IterativeConfig{
			MaxIterations: c.Fit.MaxIterations,
			Threshold:     c.Fit.Threshold,
			Shrink:        c.Fit.Shrink,
		},
	}
}
