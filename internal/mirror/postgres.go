package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Postgres keeps documents in a single path-keyed table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a mirror backed by db. Call EnsureSchema once before
// pushing.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the mirror table if needed.
func (m *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS mirror_documents (
			path       TEXT PRIMARY KEY,
			fields     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres mirror schema: %w", err)
	}
	return nil
}

// Push upserts the document at path.
func (m *Postgres) Push(ctx context.Context, path string, fields map[string]string) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres mirror: encode %s: %w", path, err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO mirror_documents (path, fields)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (path) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = NOW()
	`, path, string(doc))
	if err != nil {
		return fmt.Errorf("postgres mirror %s: %w", path, err)
	}
	return nil
}
