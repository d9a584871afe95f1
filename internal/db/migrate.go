package db

import (
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
)

// Migrate applies all pending migrations from migrationsFS, which must
// contain .sql files at its root.
func Migrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS) error {
	sourceDriver, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, DSN(cfg))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	m.Log = &migrateLogger{logger: logger}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	ver, dirty, _ := m.Version()
	logger.Info("migration complete", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
