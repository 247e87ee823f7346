package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default values shared by setDefaults and ApplyDefaults.
const (
	defaultListen          = ":8080"
	defaultShutdownTimeout = 30 * time.Second
	defaultLogLevel        = "INFO"
	defaultLogFormat       = "text"
	defaultLogOutput       = "stderr"
	defaultOTLPEndpoint    = "localhost:4317"
	defaultPyroscopeURL    = "http://localhost:4040"
	defaultServiceName     = "gridstore"
	defaultBackend         = "fs"
)

// setDefaults registers every configuration key with viper. Registration
// is what makes GRIDSTORE_* environment overrides visible to Unmarshal:
// viper only consults the environment for keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.output", defaultLogOutput)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", defaultOTLPEndpoint)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.service_name", defaultServiceName)
	v.SetDefault("telemetry.service_version", "")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.endpoint", defaultPyroscopeURL)
	v.SetDefault("profiling.service_name", defaultServiceName)
	v.SetDefault("profiling.service_version", "")
	v.SetDefault("profiling.profile_types", []string{})

	v.SetDefault("server.listen", defaultListen)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.request_timeout", time.Duration(0))
	v.SetDefault("server.auth_secret", "")

	v.SetDefault("store.backend", defaultBackend)
	v.SetDefault("store.fs.root", "")
	v.SetDefault("store.zip.path", "")
	v.SetDefault("store.zip.deflate", false)
	v.SetDefault("store.badger.dir", "")
	v.SetDefault("store.badger.sync_writes", false)
	v.SetDefault("store.sqlite.path", "")
	v.SetDefault("store.postgres.host", "")
	v.SetDefault("store.postgres.port", 0)
	v.SetDefault("store.postgres.database", "")
	v.SetDefault("store.postgres.user", "")
	v.SetDefault("store.postgres.password", "")
	v.SetDefault("store.postgres.ssl_mode", "")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.key_prefix", "")
	v.SetDefault("store.s3.force_path_style", false)
	v.SetDefault("store.http.base_url", "")
	v.SetDefault("store.http.token", "")
	v.SetDefault("store.cache.enabled", false)
	v.SetDefault("store.cache.max_bytes", 0)
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields with defaults. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = defaultLogOutput
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = defaultOTLPEndpoint
		cfg.Telemetry.Insecure = true
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = defaultPyroscopeURL
	}
	if cfg.Profiling.ServiceName == "" {
		cfg.Profiling.ServiceName = defaultServiceName
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	applyStoreDefaults(&cfg.Store)
}

// applyStoreDefaults defaults the active backend's block only. Paths
// land under the user's data directory so a bare `gridstore serve`
// works out of the box.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}

	switch cfg.Backend {
	case BackendFS:
		if cfg.FS.Root == "" {
			cfg.FS.Root = filepath.Join(getDataDir(), "data")
		}
	case BackendZip:
		if cfg.Zip.Path == "" {
			cfg.Zip.Path = filepath.Join(getDataDir(), "data.zip")
		}
	case BackendBadger:
		if cfg.Badger.Dir == "" {
			cfg.Badger.Dir = filepath.Join(getDataDir(), "badger")
		}
	case BackendSQLite:
		if cfg.SQLite.Path == "" {
			cfg.SQLite.Path = filepath.Join(getDataDir(), "gridstore.db")
		}
	case BackendPostgres:
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.SSLMode == "" {
			cfg.Postgres.SSLMode = "disable"
		}
	}
}

// getDataDir returns the data directory: $XDG_DATA_HOME/gridstore,
// falling back to ~/.local/share/gridstore, then the working directory.
func getDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "gridstore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "gridstore")
}

// Validate checks the configuration section by section. The store
// section validates only the active backend's block, so an fs config
// never trips over empty postgres credentials.
func Validate(cfg *Config) error {
	if err := validate.Struct(&cfg.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := validate.Struct(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := validate.Struct(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := cfg.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
