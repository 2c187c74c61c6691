package database

import (
	"errors"
	"fmt"
	"time"
)

// Config defines the database configuration
type Config struct {
	// Connection settings
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"` // disable, require, verify-ca, verify-full

	// Connection pool settings
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// GORM settings
	LogLevel          string        `mapstructure:"log_level"` // silent, error, warn, info
	SlowThreshold     time.Duration `mapstructure:"slow_threshold"`
	SkipDefaultTx     bool          `mapstructure:"skip_default_tx"`
	PrepareStmt       bool          `mapstructure:"prepare_stmt"`
	DisableForeignKey bool          `mapstructure:"disable_foreign_key"`

	Timezone             string `mapstructure:"timezone"`
	AutoMigrate          bool   `mapstructure:"auto_migrate"` // run schema migrations on startup
	PreferSimpleProtocol bool   `mapstructure:"prefer_simple_protocol"`
}

// DefaultConfig returns the default database configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "storage_gateway",
		SSLMode:  "disable",

		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,

		LogLevel:          "warn",
		SlowThreshold:     200 * time.Millisecond,
		SkipDefaultTx:     false,
		PrepareStmt:       false,
		DisableForeignKey: false,

		Timezone:             "UTC",
		AutoMigrate:          true,
		PreferSimpleProtocol: false,
	}
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("database host is required")
	case c.Port <= 0 || c.Port > 65535:
		return errors.New("database port must be between 1 and 65535")
	case c.User == "":
		return errors.New("database user is required")
	case c.DBName == "":
		return errors.New("database name is required")
	}

	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("invalid sslmode %q", c.SSLMode)
	}

	switch c.LogLevel {
	case "silent", "error", "warn", "info":
	default:
		return fmt.Errorf("invalid database log level %q", c.LogLevel)
	}

	if c.MaxIdleConns < 0 || c.MaxOpenConns < 0 {
		return errors.New("connection pool sizes must be >= 0")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections cannot exceed max open connections")
	}
	if c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0 || c.SlowThreshold < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// DSN returns the PostgreSQL connection DSN
func (c *Config) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.Timezone)
	if c.PreferSimpleProtocol {
		dsn += " prefer_simple_protocol=true"
	}
	return dsn
}
