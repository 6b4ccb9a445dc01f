package db

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// Migrate applies every pending migration found in src and returns the
// resulting schema version.
func Migrate(dsn string, src fs.FS) (uint, error) {
	source, err := iofs.New(src, ".")
	if err != nil {
		return 0, fmt.Errorf("platform/db: migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return 0, fmt.Errorf("platform/db: parse dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connCfg)
	defer sqlDB.Close()

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return 0, fmt.Errorf("platform/db: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("platform/db: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("platform/db: migrate up: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("platform/db: migrate version: %w", err)
	}
	return version, nil
}
