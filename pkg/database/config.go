package database

import (
	"errors"
	"time"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`

	// WriteTimeout bounds how long a caller waits for the single writer.
	WriteTimeout time.Duration `json:"write_timeout"`

	// RetryDelay is the pause before the one retry of a failed write.
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: SQLite serves concurrent readers well up to about 10
// pooled connections; writes go through one goroutine regardless.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/chatterbox.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
		RetryDelay:      5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// SQLitePragmas are applied once per pool after opening.
// ARCHITECTURAL DISCOVERY: WAL mode lets history reads proceed while the
// single writer appends messages.
var SQLitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// DSN builds the go-sqlite3 connection string for path.
func DSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
