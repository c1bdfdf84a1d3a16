package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds journal database settings
type Config struct {
	DatabasePath    string        `json:"database_path" yaml:"database_path"`
	MaxConnections  int           `json:"max_connections" yaml:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// WriteBuffer is how many activity records may wait for the writer
	WriteBuffer int `json:"write_buffer" yaml:"write_buffer"`

	// RetryDelay is the pause before the single retry of a failed write
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// DefaultConfig returns the production journal configuration
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/collabroom.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteBuffer:     1024,
		RetryDelay:      5 * time.Second,
	}
}

// Validate ensures the configuration is usable
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
	if c.WriteBuffer <= 0 {
		return errors.New("write buffer must be greater than 0")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}
	return nil
}

// DSN returns the sqlite3 connection string for DatabasePath
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// Open opens the sqlite database and applies pool settings and pragmas
func Open(c *Config) (*sql.DB, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxConnections)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	if err := ApplyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}
	return db, nil
}

// sqlitePragmas trade a little durability for write throughput; the journal is an audit aid
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -16000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA busy_timeout = 5000",
}

// ApplyPragmas applies the sqlite tuning pragmas
func ApplyPragmas(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
