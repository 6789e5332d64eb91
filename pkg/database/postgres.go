package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/lms-enrollment-api/pkg/config"
)

// NewPostgres returns a configured PostgreSQL client for the primary.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return open(cfg, cfg.Host)
}

// NewPostgresReader connects to the read replica named by DB_READ_HOST.
// It returns nil without error when no replica is configured.
func NewPostgresReader(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.ReadHost == "" {
		return nil, nil
	}
	return open(cfg, cfg.ReadHost)
}

// DSN renders the lib/pq connection string for host.
func DSN(cfg config.DatabaseConfig, host string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.SSLMode,
	)
}

func open(cfg config.DatabaseConfig, host string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg, host))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", host, err)
	}

	return db, nil
}
