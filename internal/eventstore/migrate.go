// internal/eventstore/migrate.go
package eventstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations
var embedMigrations embed.FS

// Migrate brings the schema to the latest version.
func (es *EventStore) Migrate(ctx context.Context) error {
	provider, err := es.migrator()
	if err != nil {
		return err
	}

	current, target, err := provider.GetVersions(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	es.logger.Info("planning migrations", zap.Int64("current", current), zap.Int64("target", target))

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	for _, r := range results {
		es.logger.Info("migration applied",
			zap.String("source", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (es *EventStore) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := es.migrator()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func (es *EventStore) migrator() (*goose.Provider, error) {
	dir, gooseDialect := "postgres", goose.DialectPostgres
	if es.dialect.sqlite {
		dir, gooseDialect = "sqlite", goose.DialectSQLite3
	}
	migrationsFS, err := fs.Sub(embedMigrations, path.Join("migrations", dir))
	if err != nil {
		return nil, fmt.Errorf("migrations for %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(gooseDialect, es.db, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return provider, nil
}
