package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations applies pending schema migrations.
func RunMigrations(cfg config.DatabaseConfig) error {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BaseRepository carries the shared database handle.
type BaseRepository struct {
	db *sqlx.DB
}

// AlertFilter narrows alert listing queries.
type AlertFilter struct {
	Status     string
	Severity   string
	Category   string
	AssignedTo string
	District   string
	Search     string
	DateFrom   *time.Time
	DateTo     *time.Time
	Limit      int
	Offset     int
	SortBy     string
	SortOrder  string
}

// AlertStats aggregates alert counts over a time range.
type AlertStats struct {
	Total         int `db:"total" json:"total"`
	Active        int `db:"active" json:"active"`
	Acknowledged  int `db:"acknowledged" json:"acknowledged"`
	Resolved      int `db:"resolved" json:"resolved"`
	FalsePositive int `db:"false_positive" json:"false_positive"`
	Expired       int `db:"expired" json:"expired"`
	Critical      int `db:"critical" json:"critical"`
	High          int `db:"high" json:"high"`
	Medium        int `db:"medium" json:"medium"`
	Low           int `db:"low" json:"low"`
}
