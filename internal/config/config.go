// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"rewind-arena/server/logging"
)

// Config is the full server configuration. Every field can be set through a
// REWIND_ environment variable; command-line flags override it afterwards.
type Config struct {
	Addr           string        `env:"ADDR" envDefault:":8080" validate:"required"`
	TickRate       int           `env:"TICK_RATE" envDefault:"60" validate:"gte=1,lte=240"`
	HistoryFrames  int           `env:"HISTORY_FRAMES" envDefault:"240" validate:"gte=2,lte=7200"`
	BallisticsFile string        `env:"BALLISTICS_FILE"`
	Obstacles      bool          `env:"OBSTACLES" envDefault:"true"`
	ObstaclesCount int           `env:"OBSTACLES_COUNT" envDefault:"24" validate:"gte=0,lte=512"`
	WorldSeed      string        `env:"WORLD_SEED" envDefault:"arena"`
	HeartbeatTTL   time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"10s" validate:"gt=0"`

	ClaimsPerSecond float64 `env:"CLAIMS_PER_SECOND" envDefault:"20" validate:"gt=0"`
	ClaimBurst      int     `env:"CLAIM_BURST" envDefault:"10" validate:"gte=1"`

	LogSinks     []string `env:"LOG_SINKS" envDefault:"console" envSeparator:"," validate:"min=1,dive,oneof=console json"`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogJSONPath  string   `env:"LOG_JSON_PATH"`

	// LogCategoryLevels overrides LogLevel per event category, written as
	// "rewind:debug,network:warn".
	LogCategoryLevels map[string]string `env:"LOG_CATEGORY_LEVELS" envSeparator:"," envKeyValSeparator:":" validate:"dive,keys,oneof=combat rewind lifecycle network system,endkeys,oneof=debug info warn error"`

	MetricsSpace string `env:"METRICS_NAMESPACE" envDefault:"rewind" validate:"required"`
	EnablePprof  bool   `env:"ENABLE_PPROF"`
}

const envPrefix = "REWIND_"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		if cfg.hasSink(logging.SinkJSON) && strings.TrimSpace(cfg.LogJSONPath) == "" {
			sl.ReportError(cfg.LogJSONPath, "LogJSONPath", "LogJSONPath", "required_if_sink_json", "")
		}
	}, Config{})
	return v
}

// Load parses the REWIND_ environment into a Config and validates it.
func Load() (Config, error) {
	return LoadFrom(nil)
}

// LoadFrom is Load over an explicit environment map. A nil map reads the
// process environment.
func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: envPrefix, Environment: environment}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	sinks := c.LogSinks[:0]
	for _, sink := range c.LogSinks {
		sink = strings.ToLower(strings.TrimSpace(sink))
		if sink != "" {
			sinks = append(sinks, sink)
		}
	}
	c.LogSinks = sinks
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if len(c.LogCategoryLevels) > 0 {
		levels := make(map[string]string, len(c.LogCategoryLevels))
		for category, level := range c.LogCategoryLevels {
			levels[strings.ToLower(strings.TrimSpace(category))] = strings.ToLower(strings.TrimSpace(level))
		}
		c.LogCategoryLevels = levels
	}
}

// Validate checks every field against its declared bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("config: %s failed %q (value %v)", first.Field(), first.Tag(), first.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) hasSink(name string) bool {
	for _, sink := range c.LogSinks {
		if sink == name {
			return true
		}
	}
	return false
}

// Logging maps the sink and level settings onto the router configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = append([]string(nil), c.LogSinks...)
	if severity, ok := logging.ParseSeverity(c.LogLevel); ok {
		cfg.MinimumSeverity = severity
	}
	// Levels were checked by Validate.
	_ = cfg.SetCategoryLevels(c.LogCategoryLevels)
	cfg.JSON.FilePath = c.LogJSONPath
	return cfg
}
