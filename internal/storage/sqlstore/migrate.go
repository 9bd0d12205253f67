package sqlstore

import (
	"embed"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// runMigrations brings the schema up to date with goose. The embedded
// migrations are used unless an external directory is configured.
func runMigrations(db *sqlx.DB, d dialect, externalDir string) error {
	goose.SetLogger(goose.NopLogger())

	gooseDialect := "sqlite3"
	embeddedDir := "migrations/sqlite"
	if d == dialectPostgres {
		gooseDialect = "postgres"
		embeddedDir = "migrations/postgres"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if externalDir != "" {
		goose.SetBaseFS(nil)
		if err := goose.Up(db.DB, externalDir); err != nil {
			return fmt.Errorf("failed to run migrations from %s: %w", externalDir, err)
		}
		return nil
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.Up(db.DB, embeddedDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
