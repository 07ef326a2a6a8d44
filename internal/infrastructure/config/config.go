// Package config loads the workspace configuration from
// .taskstream/config.yaml with TASKSTREAM_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. TASKSTREAM_STORE_BACKEND.
const EnvPrefix = "TASKSTREAM"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Metrics       MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	Notifications NotificationsConfig `yaml:"notifications" mapstructure:"notifications"`
}

type StoreConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory file sqlite postgres badger"`
	// DSN is required for postgres. For sqlite and badger it overrides the
	// default location inside .taskstream.
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn" validate:"required_if=Backend postgres"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1,max=20"`
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

type CacheConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Addr     string        `yaml:"addr,omitempty" mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

type MetricsConfig struct {
	// Addr, when set, serves /metrics from long-running commands.
	Addr string `yaml:"addr,omitempty" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type NotificationsConfig struct {
	Adapters []messaging.AdapterConfig `yaml:"adapters,omitempty" mapstructure:"adapters" validate:"dive"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Store: StoreConfig{Backend: BackendFile},
		Retry: RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond},
		Log:   LogConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{TTL: 10 * time.Minute},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.addr", d.Cache.Addr)
	v.SetDefault("cache.password", d.Cache.Password)
	v.SetDefault("cache.db", d.Cache.DB)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads the workspace configuration under root. A missing file yields
// the defaults with environment overrides applied.
func Load(root string) (Config, error) {
	repo := storage.NewFilesystemRepository(root)

	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(storage.ConfigFile, ".yaml"))
	v.SetConfigType("yaml")
	v.AddConfigPath(repo.Dir())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read %s: %w", storage.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", storage.ConfigFile, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML into the workspace.
func Save(root string, cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	repo := storage.NewFilesystemRepository(root)
	if err := repo.Initialize(); err != nil {
		return err
	}
	path, err := repo.ResolvePath(storage.ConfigFile)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns one error listing every
// failing field.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
