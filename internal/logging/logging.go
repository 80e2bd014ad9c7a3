// Package logging builds the zerolog logger used by the dic command.
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains logging configuration.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "warn"
	}
	if c.Format == "" {
		c.Format = "console"
	}
}

// Validate checks level and format.
func (c *Config) Validate() error {
	levels := []string{"trace", "debug", "info", "warn", "error", "disabled"}
	if !slices.Contains(levels, strings.ToLower(c.Level)) {
		return fmt.Errorf("log.level must be one of %v (got: %s)", levels, c.Level)
	}
	formats := []string{"console", "json"}
	if !slices.Contains(formats, strings.ToLower(c.Format)) {
		return fmt.Errorf("log.format must be one of %v (got: %s)", formats, c.Format)
	}
	return nil
}

// New returns a logger writing to w. An invalid level falls back to warn.
func New(cfg Config, w io.Writer) zerolog.Logger {
	cfg.ApplyDefaults()
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.WarnLevel
	}

	out := w
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    cfg.NoColor,
			TimeFormat: time.TimeOnly,
		}
	}
	zc := zerolog.New(out).Level(level).With()
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	return zc.Str("app", "dic").Logger()
}
