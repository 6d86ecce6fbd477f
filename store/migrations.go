package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mercury-pubsub/mercury/internal/logging"
)

type migration struct {
	Version int
	Name    string
	SQL     string
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_users",
		SQL: `
CREATE TABLE users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL,
	rank INTEGER NOT NULL CHECK (rank >= 0)
);`,
	},
	{
		Version: 2,
		Name:    "create_channels",
		SQL: `
CREATE TABLE channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	schema TEXT NOT NULL
);`,
	},
	{
		Version: 3,
		Name:    "create_keys_and_access",
		SQL: `
CREATE TABLE keys (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL CHECK (type IN ('publisher', 'subscriber')),
	hash BLOB NOT NULL
);
CREATE TABLE access (
	key_id TEXT NOT NULL REFERENCES keys(id) ON DELETE CASCADE,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	PRIMARY KEY (key_id, channel_id)
);
CREATE INDEX access_channel_idx ON access(channel_id);`,
	},
}

func latestVersion() int {
	return migrations[len(migrations)-1].Version
}

// migrate applies every migration not yet recorded in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
			if err != nil {
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		applied++
	}

	if applied > 0 {
		logging.Info().Int("applied", applied).Int("version", latestVersion()).Msg("database migrated")
	}
	return nil
}

// SchemaVersion is the highest applied migration, 0 for a fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
