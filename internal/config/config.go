// Package config loads the dic command configuration from flags, DIC_*
// environment variables, .env files and an optional dic.yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sghaida/dic/internal/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the command.
const EnvPrefix = "DIC"

// Config is the command configuration.
type Config struct {
	Manifest string         `mapstructure:"manifest" validate:"required"`
	EnvFiles []string       `mapstructure:"env_files"`
	Format   string         `mapstructure:"format" validate:"oneof=text yaml"`
	Strict   bool           `mapstructure:"strict"`
	Log      logging.Config `mapstructure:"log"`
}

// FileSystem abstracts file checks and .env loading.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(paths ...string) error
}

type osFileSystem struct{}

func (osFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osFileSystem) LoadEnv(paths ...string) error { return godotenv.Load(paths...) }

type loaderConfig struct {
	fs         FileSystem
	configFile string
	searchPath []string
}

// LoaderOption configures Load.
type LoaderOption func(*loaderConfig)

// WithFileSystem replaces the file system used to find files.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *loaderConfig) { lc.fs = fs }
}

// WithConfigFile sets an explicit configuration file.
func WithConfigFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// WithSearchPath sets the candidate configuration files tried in order.
func WithSearchPath(paths ...string) LoaderOption {
	return func(lc *loaderConfig) { lc.searchPath = paths }
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("manifest", "m", "services.yaml", "service manifest to read")
	fs.StringSlice("env-file", nil, ".env files loaded before the manifest is read")
	fs.StringP("format", "f", "text", "output format: text or yaml")
	fs.Bool("strict", false, "treat warnings as errors")
	fs.StringP("config", "c", "", "configuration file (default: first of dic.yaml, .dic.yaml)")
	fs.String("log-level", "warn", "log level")
	fs.String("log-format", "console", "log format: console or json")
	fs.Bool("no-color", false, "disable colored output")
}

var flagKeys = map[string]string{
	"manifest":   "manifest",
	"env-file":   "env_files",
	"format":     "format",
	"strict":     "strict",
	"log-level":  "log.level",
	"log-format": "log.format",
	"no-color":   "log.no_color",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load resolves the configuration. Precedence, highest first: changed
// flags, DIC_* environment variables (after .env files), the configuration
// file, flag defaults.
func Load(fs *pflag.FlagSet, opts ...LoaderOption) (*Config, error) {
	lc := loaderConfig{fs: osFileSystem{}, searchPath: []string{"dic.yaml", ".dic.yaml"}}
	for _, opt := range opts {
		opt(&lc)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, err
		}
	}

	file := lc.configFile
	if f := fs.Lookup("config"); f != nil && f.Changed {
		file = f.Value.String()
	}
	if file == "" {
		for _, p := range lc.searchPath {
			if lc.fs.Exists(p) {
				file = p
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	envFiles := v.GetStringSlice("env_files")
	if len(envFiles) == 0 && lc.fs.Exists(".env") {
		envFiles = []string{".env"}
	}
	if len(envFiles) > 0 {
		if err := lc.fs.LoadEnv(envFiles...); err != nil {
			return nil, fmt.Errorf("config: load env files: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.EnvFiles = envFiles
	cfg.Log.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and the logging section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return c.Log.Validate()
}
