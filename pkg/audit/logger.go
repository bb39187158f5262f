// Package audit records cache invalidation events in a dedicated table
// so operators can see what was removed and why.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recall-ai/recall/pkg/models"
)

// Logger writes and queries invalidation events.
type Logger struct {
	db *sql.DB
}

// New opens the audit database and creates the schema.
func New(dbPath string) (*Logger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return &Logger{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS invalidation_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		key        TEXT NOT NULL,
		model_name TEXT NOT NULL,
		reason     TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_invalidation_created ON invalidation_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_invalidation_model ON invalidation_log(model_name)`)
	return err
}

// Log inserts an invalidation event. Safe to call on a nil Logger.
func (l *Logger) Log(ctx context.Context, ev models.InvalidationEvent) error {
	if l == nil || l.db == nil {
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO invalidation_log (key, model_name, reason, created_at) VALUES (?, ?, ?, ?)`,
		ev.Key, ev.ModelName, string(ev.Reason), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log invalidation: %w", err)
	}
	return nil
}

// QueryOpts filters audit queries.
type QueryOpts struct {
	Model string
	Since time.Time
	Limit int
}

// Query returns invalidation events matching the options, newest first.
func (l *Logger) Query(ctx context.Context, opts QueryOpts) ([]models.InvalidationEvent, error) {
	q := `SELECT key, model_name, reason, created_at FROM invalidation_log WHERE 1=1`
	var args []any

	if opts.Model != "" {
		q += " AND model_name = ?"
		args = append(args, opts.Model)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query invalidations: %w", err)
	}
	defer rows.Close()

	var events []models.InvalidationEvent
	for rows.Next() {
		var (
			ev     models.InvalidationEvent
			reason string
		)
		if err := rows.Scan(&ev.Key, &ev.ModelName, &reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invalidation row: %w", err)
		}
		ev.Reason = models.InvalidationReason(reason)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than the cutoff and returns the count.
func (l *Logger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM invalidation_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (l *Logger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
