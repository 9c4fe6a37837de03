package insights

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGo-free sqlite driver
)

// schema mirrors the learning subsystem's table. Kept here so tests and
// first-run tooling can seed a store without the learning subsystem.
const schema = `
CREATE TABLE IF NOT EXISTS insights (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	failure_type TEXT NOT NULL,
	file_pattern TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_failure_type ON insights(failure_type);
`

// Seed creates the store at dbPath if needed and inserts the given
// insights. Primarily a test helper; production writes belong to the
// learning subsystem.
func Seed(ctx context.Context, dbPath string, records []Insight) error {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath,
	))
	if err != nil {
		return fmt.Errorf("failed to open insight store for seeding: %w", err)
	}
	defer db.Close() //nolint:errcheck // Best-effort close after seed

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create insight schema: %w", err)
	}

	for i := range records {
		rec := &records[i]
		created := rec.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO insights (failure_type, file_pattern, content, created_at) VALUES (?, ?, ?, ?)`,
			rec.FailureType, rec.FilePattern, rec.Content, created.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}
	return nil
}
