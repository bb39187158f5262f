// Package tracker persists response-time observations so cached and
// direct latencies can be compared across restarts.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one observed response time.
type Sample struct {
	Model     string    `json:"model"`
	Cached    bool      `json:"cached"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates latency per model, split by cache outcome.
type Summary struct {
	Model         string  `json:"model"`
	CachedCount   int64   `json:"cached_count"`
	DirectCount   int64   `json:"direct_count"`
	AvgCachedMs   float64 `json:"avg_cached_ms"`
	AvgDirectMs   float64 `json:"avg_direct_ms"`
	SavedMsPerHit float64 `json:"saved_ms_per_hit"`
}

// Tracker records and queries response-time samples.
type Tracker interface {
	// Record stores one latency sample.
	Record(ctx context.Context, s Sample) error
	// Summaries returns per-model latency aggregates.
	Summaries(ctx context.Context) ([]Summary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS latency_samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model TEXT NOT NULL,
	cached INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_latency_model ON latency_samples(model, cached);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores one latency sample.
func (t *SQLiteTracker) Record(ctx context.Context, s Sample) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO latency_samples (model, cached, latency_ms, created_at) VALUES (?, ?, ?, ?)`,
		s.Model, s.Cached, s.LatencyMs, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// Summaries returns per-model latency aggregates.
func (t *SQLiteTracker) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT model,
		 SUM(CASE WHEN cached = 1 THEN 1 ELSE 0 END),
		 SUM(CASE WHEN cached = 0 THEN 1 ELSE 0 END),
		 COALESCE(AVG(CASE WHEN cached = 1 THEN latency_ms END), 0),
		 COALESCE(AVG(CASE WHEN cached = 0 THEN latency_ms END), 0)
		 FROM latency_samples GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Model, &s.CachedCount, &s.DirectCount, &s.AvgCachedMs, &s.AvgDirectMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if s.CachedCount > 0 && s.DirectCount > 0 {
			s.SavedMsPerHit = s.AvgDirectMs - s.AvgCachedMs
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
