// Package config loads process configuration from an optional file and
// MEMDB_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. MEMDB_SERVER_PORT
const EnvPrefix = "MEMDB"

// Config is the full process configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig configures the embedded store
type DatabaseConfig struct {
	Name              string        `mapstructure:"name"`
	MaxDocuments      int           `mapstructure:"max_documents"`
	ParallelThreshold int           `mapstructure:"parallel_threshold"`
	RegexCacheSize    int           `mapstructure:"regex_cache_size"`
	ScriptCacheSize   int           `mapstructure:"script_cache_size"`
	SlowOpThreshold   time.Duration `mapstructure:"slow_op_threshold"`
	// AuditLog appends every committed mutation to this file as JSON lines
	AuditLog string `mapstructure:"audit_log"`
}

// ServerConfig configures the HTTP shim
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxRequestSize    int64         `mapstructure:"max_request_size"`
	EnableCORS        bool          `mapstructure:"enable_cors"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	RateLimit         float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst         int           `mapstructure:"rate_burst"`

	// TLSCertFile and TLSKeyFile enable TLS together. SelfSignedTLS serves
	// an in-memory certificate for Host instead.
	TLSCertFile   string `mapstructure:"tls_cert_file"`
	TLSKeyFile    string `mapstructure:"tls_key_file"`
	SelfSignedTLS bool   `mapstructure:"self_signed_tls"`
}

// LoggingConfig configures pkg/logger
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Name:              "db",
			MaxDocuments:      100000,
			ParallelThreshold: 1000,
			RegexCacheSize:    256,
			ScriptCacheSize:   256,
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxRequestSize:    10 * 1024 * 1024,
			EnableCORS:        true,
			AllowedOrigins:    []string{"*"},
			EnableCompression: true,
			RateBurst:         50,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// SetDefaults registers every default on v so environment variables and
// bound flags resolve against known keys
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.max_documents", d.Database.MaxDocuments)
	v.SetDefault("database.parallel_threshold", d.Database.ParallelThreshold)
	v.SetDefault("database.regex_cache_size", d.Database.RegexCacheSize)
	v.SetDefault("database.script_cache_size", d.Database.ScriptCacheSize)
	v.SetDefault("database.slow_op_threshold", d.Database.SlowOpThreshold)
	v.SetDefault("database.audit_log", d.Database.AuditLog)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_request_size", d.Server.MaxRequestSize)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.enable_compression", d.Server.EnableCompression)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.tls_cert_file", d.Server.TLSCertFile)
	v.SetDefault("server.tls_key_file", d.Server.TLSKeyFile)
	v.SetDefault("server.self_signed_tls", d.Server.SelfSignedTLS)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.add_source", d.Logging.AddSource)
}

// Load reads configuration into a Config. file is optional; when set it
// must exist. Environment variables override the file, e.g.
// MEMDB_DATABASE_MAX_DOCUMENTS.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("config file %s not found: %w", file, err)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the store or server cannot run with
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name cannot be empty")
	}
	if c.Database.MaxDocuments <= 0 {
		return fmt.Errorf("database.max_documents must be positive, got %d", c.Database.MaxDocuments)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit cannot be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	return nil
}

// TLS reports whether the server should serve https
func (s ServerConfig) TLS() bool {
	return s.SelfSignedTLS || s.TLSCertFile != ""
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
