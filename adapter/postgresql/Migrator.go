package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const schemaMigrationsTableName = "docmap_schema_migrations"

const queryEnsureSchemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS docmap_schema_migrations (
	version    INTEGER PRIMARY KEY,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
)`

// migrationSteps are applied in order; a step's version is its index plus one.
// Steps are never edited once released, only appended.
var migrationSteps = []string{
	`CREATE TABLE docmap_documents (
		seq        BIGSERIAL PRIMARY KEY,
		collection TEXT  NOT NULL,
		id         TEXT  NOT NULL,
		body       JSONB NOT NULL,
		UNIQUE (collection, id)
	)`,
	`CREATE INDEX docmap_documents_body_idx ON docmap_documents USING GIN (body jsonb_path_ops)`,
}

// Migrate brings the schema of the document table up to date.
// Concurrent migrations from several processes are serialised with a transaction level advisory lock.
func Migrate(ctx context.Context, c Connection) error {
	return c.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schemaMigrationsTableName); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, queryEnsureSchemaMigrationsTable); err != nil {
			return err
		}
		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM docmap_schema_migrations`).Scan(&current); err != nil {
			return err
		}
		for i := current; i < len(migrationSteps); i++ {
			if _, err := tx.Exec(ctx, migrationSteps[i]); err != nil {
				return fmt.Errorf("migration step %d: %w", i+1, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO docmap_schema_migrations (version) VALUES ($1)`, i+1); err != nil {
				return err
			}
		}
		return nil
	})
}
