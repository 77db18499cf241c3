package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Tables created by the earlier Python backend kept their defaults in the
// ORM rather than in the database, so these move them server-side.
var migrations = []migration{
	{
		name:  "default questions.created_at",
		sql:   `ALTER TABLE questions ALTER COLUMN created_at SET DEFAULT now()`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'questions' AND column_name = 'created_at' AND column_default IS NOT NULL)`,
	},
	{
		name:  "default questions.category",
		sql:   `ALTER TABLE questions ALTER COLUMN category SET DEFAULT 'General'`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'questions' AND column_name = 'category' AND column_default IS NOT NULL)`,
	},
	{
		name:  "default samples.created_at",
		sql:   `ALTER TABLE samples ALTER COLUMN created_at SET DEFAULT now()`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'samples' AND column_name = 'created_at' AND column_default IS NOT NULL)`,
	},
	{
		name:  "default samples.score",
		sql:   `ALTER TABLE samples ALTER COLUMN score SET DEFAULT 2.0`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'samples' AND column_name = 'score' AND column_default IS NOT NULL)`,
	},
	{
		name:  "add samples created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_samples_created_at ON samples (created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_samples_created_at')`,
	},
}

// Migrate runs all pending schema migrations. Each one is checked first and
// only applied when missing. An apply failure is returned as a
// *MigrationError; callers treat it as fatal.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as the database owner to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart necs.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
