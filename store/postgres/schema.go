package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently by EnsureSchema. Kept as plain SQL
// rather than a migration framework since the schema is small and
// static.
const schema = `
CREATE TABLE IF NOT EXISTS artifact (
	group_id                text        NOT NULL,
	artifact_id             text        NOT NULL,
	creation_date           timestamptz,
	last_request_date       timestamptz,
	last_success_date       timestamptz,
	last_failure_date       timestamptz,
	last_repository_update  timestamptz,
	latest_release_version  text,
	latest_snapshot_version text,
	PRIMARY KEY (group_id, artifact_id)
);

CREATE TABLE IF NOT EXISTS artifact_version (
	group_id              text        NOT NULL,
	artifact_id           text        NOT NULL,
	version_string        text        NOT NULL,
	release_date          timestamptz,
	first_seen_by_server  timestamptz,
	PRIMARY KEY (group_id, artifact_id, version_string),
	FOREIGN KEY (group_id, artifact_id) REFERENCES artifact (group_id, artifact_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS artifact_version_lookup ON artifact_version (group_id, artifact_id);
`

// EnsureSchema creates the tables this store needs if they don't
// already exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
