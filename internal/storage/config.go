// v2
// internal/storage/config.go

package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatastoreConfig selects the database driver and its connection settings.
// Exactly one driver section is consulted, chosen by Driver.
type DatastoreConfig struct {
	Driver     string         `yaml:"driver"`
	MySQL      MySQLConfig    `yaml:"mysql"`
	PostgreSQL PostgresConfig `yaml:"postgres"`
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Pool       PoolConfig     `yaml:"connection_pool"`
}

type MySQLConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	DBName    string `yaml:"dbname"`
	Charset   string `yaml:"charset"`
	ParseTime bool   `yaml:"parse_time"`
	Loc       string `yaml:"loc"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	TimeZone string `yaml:"timezone"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig bounds the underlying sql.DB connection pool.
// ConnMaxLifetime is in seconds.
type PoolConfig struct {
	MaxIdleConns    int `yaml:"max_idle_conns"`
	MaxOpenConns    int `yaml:"max_open_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// DefaultConfig is an in-process SQLite datastore, used when no datastore
// config file is provided.
func DefaultConfig() DatastoreConfig {
	return DatastoreConfig{
		Driver: "sqlite",
		SQLite: SQLiteConfig{Path: "moldsense.db"},
		Pool:   PoolConfig{MaxIdleConns: 2, MaxOpenConns: 8, ConnMaxLifetime: 300},
	}
}

// LoadConfig reads a datastore config from a YAML file. An empty path yields
// the default SQLite configuration.
func LoadConfig(path string) (DatastoreConfig, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DatastoreConfig{}, fmt.Errorf("read datastore config: %w", err)
	}
	var cfg DatastoreConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DatastoreConfig{}, fmt.Errorf("parse datastore config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DatastoreConfig{}, err
	}
	return cfg, nil
}

func (c DatastoreConfig) Validate() error {
	switch c.Driver {
	case "mysql":
		if c.MySQL.Host == "" || c.MySQL.User == "" || c.MySQL.DBName == "" {
			return fmt.Errorf("mysql config requires host, user and dbname")
		}
	case "postgres":
		if c.PostgreSQL.Host == "" || c.PostgreSQL.User == "" || c.PostgreSQL.DBName == "" {
			return fmt.Errorf("postgres config requires host, user and dbname")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite config requires a path")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Driver)
	}
	return nil
}

// DSN builds the connection string for the configured driver.
func (c DatastoreConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		m := c.MySQL
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
			m.User, m.Password, m.Host, m.Port, m.DBName, m.Charset, m.ParseTime, m.Loc)
	case "postgres":
		p := c.PostgreSQL
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode, p.TimeZone)
	case "sqlite":
		return c.SQLite.Path
	default:
		return ""
	}
}
