// Package dbpool opens tuned database/sql pools for the supported drivers.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gnemet/datatables/builder"
)

// Config describes one database connection. DSN wins over the discrete
// connection fields.
type Config struct {
	Name     string
	Driver   string
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// Open opens and pings a pool and returns the dialect for its driver.
func Open(ctx context.Context, cfg Config) (*sql.DB, builder.Dialect, error) {
	dialect, err := builder.DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	driver := driverName(dialect)

	dsn, err := DSN(cfg)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	// Dynamic tuning of the underlying pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		if cfg.MaxIdleConns == 0 {
			db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
		}
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	slog.Info("Database pool opened", "name", cfg.Name, "driver", driver, "max_open", cfg.MaxOpenConns)
	return db, dialect, nil
}

// DSN returns the driver specific connection string for cfg.
func DSN(cfg Config) (string, error) {
	dialect, err := builder.DialectFor(cfg.Driver)
	if err != nil {
		return "", err
	}

	switch dialect.(type) {
	case builder.MySQLDialect:
		var mc *mysql.Config
		if cfg.DSN != "" {
			if mc, err = mysql.ParseDSN(cfg.DSN); err != nil {
				return "", fmt.Errorf("invalid mysql dsn: %w", err)
			}
		} else {
			mc = mysql.NewConfig()
			mc.User = cfg.User
			mc.Passwd = cfg.Password
			mc.Net = "tcp"
			mc.Addr = net.JoinHostPort(orDefault(cfg.Host, "localhost"), orDefault(cfg.Port, "3306"))
			mc.DBName = cfg.Database
		}
		// DATETIME columns scan into time.Time instead of []byte
		mc.ParseTime = true
		return mc.FormatDSN(), nil

	case builder.PostgresDialect:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			orDefault(cfg.Host, "localhost"), orDefault(cfg.Port, "5432"), cfg.User, cfg.Password, cfg.Database)
		if cfg.Schema != "" {
			dsn += fmt.Sprintf(" search_path=%s,public", cfg.Schema)
		}
		return dsn, nil

	default:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		if cfg.Database == "" {
			return "", fmt.Errorf("database %s: sqlite needs a dsn or database path", cfg.Name)
		}
		return cfg.Database, nil
	}
}

func driverName(d builder.Dialect) string {
	switch d.(type) {
	case builder.MySQLDialect:
		return "mysql"
	case builder.PostgresDialect:
		return "postgres"
	default:
		return "sqlite3"
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
