// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// Store connection strings. DatabaseURL is the primary relational
	// store and is required. AnalyticsURL is the optional columnar
	// store; its presence is the sole signal that a secondary analytics
	// engine is attached.
	DatabaseURL  string `mapstructure:"databaseurl"`
	AnalyticsURL string `mapstructure:"analyticsurl"`

	// Session resolution settings
	SessionWindowSeconds int `mapstructure:"sessionwindowseconds"`

	// Ingestion limits
	MaxPayloadBytes   int `mapstructure:"maxpayloadbytes"`
	MaxEventDataProps int `mapstructure:"maxeventdataprops"`

	// Unique-visitor counts on the columnar store switch from exact to
	// approximate counting above this cardinality. Operational tuning
	// knob, not a fixed constant.
	ApproxUniqueThreshold int `mapstructure:"approxuniquethreshold"`

	// File paths
	GeoDBPath string `mapstructure:"geodbpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Relational pool settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Data retention settings
	EventsRetentionDays int `mapstructure:"eventsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "sitelens")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("databaseurl", "file:storage/sitelens.db")
		v.SetDefault("analyticsurl", "")
		v.SetDefault("sessionwindowseconds", 1800)
		v.SetDefault("maxpayloadbytes", 16*1024)
		v.SetDefault("maxeventdataprops", 50)
		v.SetDefault("approxuniquethreshold", 50000)
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("eventsretentiondays", 0)

		v.BindEnv("appname", "SITELENS_APP_NAME")
		v.BindEnv("appport", "SITELENS_APP_PORT")
		v.BindEnv("environment", "SITELENS_ENV")
		v.BindEnv("loglevel", "SITELENS_LOG_LEVEL")
		v.BindEnv("privatekey", "SITELENS_PRIVATE_KEY")
		v.BindEnv("databaseurl", "SITELENS_DATABASE_URL")
		v.BindEnv("analyticsurl", "SITELENS_ANALYTICS_URL")
		v.BindEnv("sessionwindowseconds", "SITELENS_SESSION_WINDOW_SECONDS")
		v.BindEnv("maxpayloadbytes", "SITELENS_MAX_PAYLOAD_BYTES")
		v.BindEnv("maxeventdataprops", "SITELENS_MAX_EVENT_DATA_PROPS")
		v.BindEnv("approxuniquethreshold", "SITELENS_APPROX_UNIQUE_THRESHOLD")
		v.BindEnv("geodbpath", "SITELENS_GEO_DB_PATH")
		v.BindEnv("logsdir", "SITELENS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "SITELENS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "SITELENS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "SITELENS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "SITELENS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "SITELENS_DB_MAX_IDLE_CONNS")
		v.BindEnv("eventsretentiondays", "SITELENS_EVENTS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Private key signs session cache tokens and salts visitor
		// fingerprints - production must not run on the default.
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique SITELENS_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("SITELENS_DATABASE_URL is required")
	}

	if c.SessionWindowSeconds <= 0 {
		return fmt.Errorf("session window must be positive, got %d", c.SessionWindowSeconds)
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetSessionWindow returns the visitor session window in seconds.
// Repeated activity from one visitor fingerprint inside the window maps
// to a single session.
func (c *Config) GetSessionWindow() int {
	return c.SessionWindowSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1 (required for test stability on shared in-memory databases)
// - Development/Production: 10 (allows concurrent reads for parallel report queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
