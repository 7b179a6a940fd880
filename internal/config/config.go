// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/mapshell/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MAPSHELL"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Bus      BusConfig      `mapstructure:"bus"`
	Settings SettingsConfig `mapstructure:"settings"`
	Online   OnlineConfig   `mapstructure:"online"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// DataConfig lists the map files loaded at startup.
type DataConfig struct {
	Paths    []string      `mapstructure:"paths"` // files or directories
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// StorageConfig holds the remote catalog that is synced into LocalPath.
type StorageConfig struct {
	Type         string        `mapstructure:"type"` // local, s3, azure, http
	LocalPath    string        `mapstructure:"local_path"`
	SyncInterval time.Duration `mapstructure:"sync_interval"` // 0 disables periodic sync
	S3           S3Config      `mapstructure:"s3"`
	Azure        AzureConfig   `mapstructure:"azure"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Dirs     []string `mapstructure:"dirs"`     // scanned after the default dirs
	AppDir   string   `mapstructure:"app_dir"`  // default: directory of the executable
	AppName  string   `mapstructure:"app_name"` // names the per-user plugin dir
	Autoload bool     `mapstructure:"autoload"`
	Lua      bool     `mapstructure:"lua"`
}

// BusConfig selects where host messages are published besides the
// in-process bus.
type BusConfig struct {
	Type string     `mapstructure:"type"` // memory, nats
	NATS NATSConfig `mapstructure:"nats"`
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// SettingsConfig selects the settings store.
type SettingsConfig struct {
	Type string `mapstructure:"type"` // memory, sqlite
	Path string `mapstructure:"path"`
}

// OnlineConfig lists online maps added at startup.
type OnlineConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Custom    []CustomMap      `mapstructure:"custom"`
}

// ProviderConfig enables a built-in tile provider.
type ProviderConfig struct {
	Type   string `mapstructure:"type"`
	APIKey string `mapstructure:"api_key"`
}

// CustomMap is a tile service given by its URL template.
type CustomMap struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	MinZoom int    `mapstructure:"min_zoom"`
	MaxZoom int    `mapstructure:"max_zoom"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds Azure DNS configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Data defaults
	viper.SetDefault("data.paths", []string{})
	viper.SetDefault("data.watch", true)
	viper.SetDefault("data.debounce", 500*time.Millisecond)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.sync_interval", 0)
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Plugin defaults
	viper.SetDefault("plugins.enabled", true)
	viper.SetDefault("plugins.dirs", []string{})
	viper.SetDefault("plugins.app_name", "mapshell")
	viper.SetDefault("plugins.autoload", true)
	viper.SetDefault("plugins.lua", true)

	// Bus defaults
	viper.SetDefault("bus.type", "memory")
	viper.SetDefault("bus.nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("bus.nats.subject_prefix", "mapshell")

	// Settings defaults
	viper.SetDefault("settings.type", "sqlite")
	viper.SetDefault("settings.path", "./data/.mapshell/settings.db")

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/mapshell")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "invalid server port %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", "TLS enabled but no email specified")
		}
	}

	if c.Storage.SyncInterval < 0 {
		return invalid("storage.sync_interval", "negative sync interval %s", c.Storage.SyncInterval)
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return invalid("storage.azure.account_name", "azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type != "local" && c.Storage.LocalPath == "" {
		return invalid("storage.local_path", "a local path is required to sync %s storage", c.Storage.Type)
	}

	switch c.Bus.Type {
	case "memory":
	case "nats":
		if c.Bus.NATS.URL == "" {
			return invalid("bus.nats.url", "NATS url is required")
		}
	default:
		return invalid("bus.type", "unknown bus type %q", c.Bus.Type)
	}

	switch c.Settings.Type {
	case "memory":
	case "sqlite":
		if c.Settings.Path == "" {
			return invalid("settings.path", "settings database path is required")
		}
	default:
		return invalid("settings.type", "unknown settings type %q", c.Settings.Type)
	}

	for i, p := range c.Online.Providers {
		if !slices.Contains(knownProviders, domain.ProviderType(p.Type)) {
			return invalid(fmt.Sprintf("online.providers[%d].type", i), "unknown provider %q", p.Type)
		}
	}
	for i, m := range c.Online.Custom {
		if m.URL == "" {
			return invalid(fmt.Sprintf("online.custom[%d].url", i), "url template is required")
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return invalid("logging.level", "unknown log level %q", c.Logging.Level)
	}

	return nil
}

var knownProviders = []domain.ProviderType{
	domain.ProviderOpenStreetMap,
	domain.ProviderOpenFreeMap,
	domain.ProviderMapTiler,
	domain.ProviderBingMaps,
	domain.ProviderEsriImagery,
	domain.ProviderCartoDB,
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
