package pg

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nimasrn/deposit-gateway/pkg/logger"
	"github.com/pressly/goose/v3"
)

func Migrate(cfg Config, dir string) error {
	return withGoose(cfg, func(db *sql.DB) error {
		return goose.Up(db, dir)
	})
}

// Rollback undoes the most recent migration.
func Rollback(cfg Config, dir string) error {
	return withGoose(cfg, func(db *sql.DB) error {
		return goose.Down(db, dir)
	})
}

func MigrationStatus(cfg Config, dir string) error {
	return withGoose(cfg, func(db *sql.DB) error {
		return goose.Status(db, dir)
	})
}

func withGoose(cfg Config, fn func(db *sql.DB) error) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := fn(db); err != nil {
		logger.Error("migration failed", "error", err, "database", cfg.Database)
		return err
	}
	return nil
}
