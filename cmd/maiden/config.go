package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds the tool configuration. Project facts live in properties.json.
type Config struct {
	ProjectDir string          `mapstructure:"project_dir"`
	Properties string          `mapstructure:"properties"` // Relative to ProjectDir unless absolute
	Database   DatabaseConfig  `mapstructure:"database"`
	Log        LogConfig       `mapstructure:"log"`
	Build      BuildConfig     `mapstructure:"build"`
	SSH        SSHConfig       `mapstructure:"ssh"`
	Remote     RemoteConfig    `mapstructure:"remote"`
	Webserver  WebserverConfig `mapstructure:"webserver"`
	API        APIConfig       `mapstructure:"api"`
}

// DatabaseConfig locates the release history database. An empty DSN
// disables history.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BuildConfig holds artifact settings.
type BuildConfig struct {
	Dir          string `mapstructure:"dir"`
	StampPattern string `mapstructure:"stamp_pattern"`
}

// SSHConfig configures connections to environment hosts.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	ForwardAgent   bool          `mapstructure:"forward_agent"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RemoteConfig describes the tool installation on environment hosts.
type RemoteConfig struct {
	TempDir string `mapstructure:"temp_dir"`
	Binary  string `mapstructure:"binary"`
}

// WebserverConfig configures the web server integration.
type WebserverConfig struct {
	ReloadCommand string `mapstructure:"reload_command"`
}

// APIConfig holds the status API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PropertiesPath returns the properties file location.
func (c *Config) PropertiesPath() string {
	if filepath.IsAbs(c.Properties) {
		return c.Properties
	}
	return filepath.Join(c.ProjectDir, c.Properties)
}

// =============================================================================
// Config Loading
// =============================================================================

// DefaultConfigFile is read from the working directory when --config is not
// given.
const DefaultConfigFile = "maiden.yaml"

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("project_dir", ".")
	v.SetDefault("properties", "properties.json")
	v.SetDefault("database.dsn", "~/.maiden/history.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("build.dir", domain.DefaultBuildDir)
	v.SetDefault("build.stamp_pattern", "")
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.key_file", "")
	v.SetDefault("ssh.known_hosts_file", "~/.ssh/known_hosts")
	v.SetDefault("ssh.forward_agent", true)
	v.SetDefault("ssh.connect_timeout", "10s")
	v.SetDefault("remote.temp_dir", "/tmp")
	v.SetDefault("remote.binary", "maiden")
	v.SetDefault("webserver.reload_command", "sudo invoke-rc.d apache2 reload")
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "30s")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigFile
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		switch {
		case errors.As(err, &parseErr):
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		case explicit && !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// A missing file means defaults.
	}

	v.SetEnvPrefix("MAIDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.DSN != "" && cfg.Database.DSN != ":memory:" {
		dsn, err := homedir.Expand(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid database.dsn: %w", err)
		}
		cfg.Database.DSN = dsn
	}

	return &cfg, nil
}

// LoadProperties reads and validates the project properties file.
func LoadProperties(path string) (domain.Properties, error) {
	// Environment names may contain dots, so keys are not split on them.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	v.SetConfigType("json")

	var props domain.Properties
	if err := v.ReadInConfig(); err != nil {
		return props, fmt.Errorf("failed to read properties %s: %w", path, err)
	}
	if err := v.Unmarshal(&props); err != nil {
		return props, fmt.Errorf("failed to decode properties %s: %w", path, err)
	}
	if err := props.Validate(); err != nil {
		return props, fmt.Errorf("invalid properties %s: %w", path, err)
	}
	return props, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so command output on stdout stays machine-readable.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
