package estimator

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config manages estimator configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Iteration parameters
	v.SetDefault("estimator.max_iterations", 200)
	v.SetDefault("estimator.tolerance", 1e-6)
	v.SetDefault("estimator.checkpoints", []int{1, 10, 50, 200})

	// Relaxed (DF) estimator parameters
	v.SetDefault("estimator.damping", 0.7)

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.progress_interval", 50)
	v.SetDefault("logging.enable_progress", true)

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// MaxIterations is the iteration cap (the only cancellation mechanism)
func (c *Config) MaxIterations() int { return c.v.GetInt("estimator.max_iterations") }

// Tolerance is the relative log-likelihood change below which iteration stops
func (c *Config) Tolerance() float64 { return c.v.GetFloat64("estimator.tolerance") }

// Checkpoints lists the iterations at which estimate snapshots are retained
func (c *Config) Checkpoints() []int { return c.v.GetIntSlice("estimator.checkpoints") }

// Damping is the relaxation factor of the DF estimator: the fraction of the
// full EM step taken per iteration
func (c *Config) Damping() float64 { return c.v.GetFloat64("estimator.damping") }

func (c *Config) LogLevel() string { return c.v.GetString("logging.level") }

func (c *Config) ProgressInterval() int { return c.v.GetInt("logging.progress_interval") }

func (c *Config) EnableProgress() bool { return c.v.GetBool("logging.enable_progress") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", "estimator").Logger()
}
