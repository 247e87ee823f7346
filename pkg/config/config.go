// Package config loads and validates the gridstore configuration file.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (GRIDSTORE_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// The file is static process configuration: logging, telemetry, the
// gateway server, and the chunk store backend. Array definitions are
// data, not configuration; they live in the store as metadata documents.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/gridstore/internal/bytesize"
	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/internal/telemetry"
)

// Config is the root of the gridstore configuration file.
type Config struct {
	// Logging controls log level, format, and destination.
	Logging logger.Config `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Telemetry controls OpenTelemetry trace export.
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`

	// Profiling controls Pyroscope continuous profiling.
	Profiling telemetry.ProfilingConfig `mapstructure:"profiling" yaml:"profiling" json:"profiling"`

	// Server configures the HTTP gateway.
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Store selects and configures the chunk store backend.
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`
}

// ServerConfig configures the gateway listener.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":8080" or "127.0.0.1:8080".
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen" validate:"required"`

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"required,gt=0"`

	// RequestTimeout bounds each request when positive. Zero leaves
	// requests unbounded; object transfers can be large.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`

	// AuthSecret, when non-empty, requires mutating requests to carry
	// a bearer JWT signed with it. Minimum 32 bytes.
	AuthSecret string `mapstructure:"auth_secret" yaml:"auth_secret,omitempty" json:"auth_secret,omitempty" validate:"omitempty,min=32"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load loads configuration from the file at configPath (or the default
// location when empty), applies environment overrides and defaults, and
// validates the result. A missing file is not an error: defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load with a friendlier error when the named file is
// missing, pointing at the flag and default location.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create it, or run without --config to use defaults\n"+
				"(default location: %s)", configPath, GetDefaultConfigPath())
		}
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML. The file mode is
// 0600: the store section can carry credentials.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// setupViper wires environment overrides and the config file location.
// Environment variables use the GRIDSTORE_ prefix with underscores, e.g.
// GRIDSTORE_LOGGING_LEVEL=DEBUG or GRIDSTORE_STORE_S3_BUCKET=chunks.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GRIDSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file, treating a missing file
// as empty configuration.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read file: %w", err)
	}
	return nil
}

// configDecodeHooks combines the decode hooks for the custom config
// types: byte sizes ("512MiB"), durations ("30s"), and comma-separated
// lists from environment variables.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// so config files can say "1GiB", "500MB", or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML numbers arrive as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings and numbers to time.Duration, so
// config files can say "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: $XDG_CONFIG_HOME/
// gridstore, falling back to ~/.config/gridstore, then the working
// directory.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gridstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gridstore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
