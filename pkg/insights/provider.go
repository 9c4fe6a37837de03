// Package insights reads the failure-learning store and surfaces relevant
// insight text for prompt enrichment.
//
// The learning subsystem owns the write side; this package is a read-only
// consumer. Every method degrades to empty results on error because a
// missing insight must never block a phase.
package insights

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite" // CGo-free sqlite driver

	"swarm/pkg/logx"
)

// Insight is one learned lesson keyed by failure category and file pattern.
type Insight struct {
	ID          int64     `json:"id"`
	FailureType string    `json:"failure_type"`
	FilePattern string    `json:"file_pattern"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Provider serves relevant insights from the learning store's sqlite file.
type Provider struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open connects to the insight database. A missing file yields a provider
// that serves empty results rather than an error.
func Open(dbPath string) (*Provider, error) {
	p := &Provider{logger: logx.NewLogger("insights")}

	if dbPath == "" {
		return p, nil
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		p.logger.Info("No insight store at %s; prompts will not be enriched", dbPath)
		return p, nil
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open insight store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping insight store: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)

	p.db = db
	return p, nil
}

// Close releases the database connection.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close insight store: %w", err)
	}
	p.db = nil
	return nil
}

// RelevantInsights returns up to limit insights matching the failure type,
// newest first. filePattern narrows results with SQL LIKE semantics; pass
// "" to match any file. Errors log a warning and return nil so callers can
// always proceed.
func (p *Provider) RelevantInsights(ctx context.Context, failureType, filePattern string, limit int) []Insight {
	if p.db == nil {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT id, failure_type, file_pattern, content, created_at
		FROM insights
		WHERE failure_type = ?`
	args := []any{failureType}
	if filePattern != "" {
		query += ` AND file_pattern LIKE ?`
		args = append(args, filePattern)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		p.logger.Warn("Insight query failed (%s): %v", failureType, err)
		return nil
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var results []Insight
	for rows.Next() {
		var ins Insight
		var created string
		if err := rows.Scan(&ins.ID, &ins.FailureType, &ins.FilePattern, &ins.Content, &created); err != nil {
			p.logger.Warn("Insight row scan failed: %v", err)
			return results
		}
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			ins.CreatedAt = ts
		}
		results = append(results, ins)
	}
	if err := rows.Err(); err != nil {
		p.logger.Warn("Insight iteration failed: %v", err)
	}
	return results
}
