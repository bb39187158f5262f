package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
)

// The stats sidecar is a single-row table in the same database. It is
// loaded at construction and written at Optimize and Close; row count
// and total bytes are always recomputed from cache_entries instead.
const createStatsTable = `
CREATE TABLE IF NOT EXISTS cache_stats (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_requests INTEGER NOT NULL,
	cache_hits INTEGER NOT NULL,
	cache_misses INTEGER NOT NULL,
	avg_response_time_cached REAL NOT NULL,
	avg_response_time_uncached REAL NOT NULL,
	cached_samples INTEGER NOT NULL DEFAULT 0,
	uncached_samples INTEGER NOT NULL DEFAULT 0,
	invalidations TEXT NOT NULL
);
`

// Stats returns current counters with size aggregates freshly recomputed
// from the durable store.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	return c.snapshotStats(ctx)
}

// snapshotStats recomputes size aggregates and returns a copy of the
// counters. Caller holds c.mu.
func (c *Cache) snapshotStats(ctx context.Context) (models.CacheStats, error) {
	var (
		count int64
		total sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(size_bytes) FROM cache_entries`).Scan(&count, &total)
	if err != nil {
		return models.CacheStats{}, storeErr("cache stats", err)
	}

	stats := c.stats
	stats.CacheSize = count
	stats.TotalSizeBytes = total.Int64
	stats.Invalidations = make(map[models.InvalidationReason]int64, len(c.stats.Invalidations))
	for reason, n := range c.stats.Invalidations {
		stats.Invalidations[reason] = n
	}
	return stats, nil
}

// loadStats restores the persisted sidecar, if present.
func (c *Cache) loadStats() error {
	var (
		invalidations string
		s             = &c.stats
	)
	err := c.db.QueryRow(
		`SELECT total_requests, cache_hits, cache_misses,
		 avg_response_time_cached, avg_response_time_uncached,
		 cached_samples, uncached_samples, invalidations
		 FROM cache_stats WHERE id = 1`,
	).Scan(&s.TotalRequests, &s.CacheHits, &s.CacheMisses,
		&s.AvgResponseTimeCached, &s.AvgResponseTimeUncached,
		&c.cachedSamples, &c.uncachedSamples, &invalidations)

	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return storeErr("load stats", err)
	}

	if invalidations != "" {
		if jerr := json.Unmarshal([]byte(invalidations), &s.Invalidations); jerr != nil {
			return fmt.Errorf("%w: decode stats sidecar: %v", cache.ErrCorruption, jerr)
		}
	}
	if s.Invalidations == nil {
		s.Invalidations = make(map[models.InvalidationReason]int64)
	}
	return nil
}

// persistStats writes the sidecar row. Caller holds c.mu.
func (c *Cache) persistStats(ctx context.Context) error {
	invalidations, err := json.Marshal(c.stats.Invalidations)
	if err != nil {
		return fmt.Errorf("%w: encode invalidations: %v", cache.ErrSerialization, err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cache_stats
		(id, total_requests, cache_hits, cache_misses,
		 avg_response_time_cached, avg_response_time_uncached,
		 cached_samples, uncached_samples, invalidations)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 total_requests = excluded.total_requests,
		 cache_hits = excluded.cache_hits,
		 cache_misses = excluded.cache_misses,
		 avg_response_time_cached = excluded.avg_response_time_cached,
		 avg_response_time_uncached = excluded.avg_response_time_uncached,
		 cached_samples = excluded.cached_samples,
		 uncached_samples = excluded.uncached_samples,
		 invalidations = excluded.invalidations`,
		c.stats.TotalRequests, c.stats.CacheHits, c.stats.CacheMisses,
		c.stats.AvgResponseTimeCached, c.stats.AvgResponseTimeUncached,
		c.cachedSamples, c.uncachedSamples, string(invalidations),
	)
	if err != nil {
		return storeErr("persist stats", err)
	}
	return nil
}

// Entry returns a stored entry by key, mainly for diagnostics.
func (c *Cache) Entry(ctx context.Context, key string) (*models.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	var (
		e        models.CacheEntry
		metadata sql.NullString
		ctxFP    sql.NullString
		ttl      sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT key, prompt_fingerprint, prompt_text, model_name, response,
		 metadata, created_at, last_accessed, access_count, performance_score,
		 context_fingerprint, ttl_seconds, size_bytes
		 FROM cache_entries WHERE key = ?`, key,
	).Scan(&e.Key, &e.PromptFingerprint, &e.PromptText, &e.ModelName,
		&e.Response, &metadata, &e.CreatedAt, &e.LastAccessed,
		&e.AccessCount, &e.PerformanceScore, &ctxFP, &ttl, &e.SizeBytes)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load entry", err)
	}

	if metadata.Valid && metadata.String != "" {
		if jerr := json.Unmarshal([]byte(metadata.String), &e.Metadata); jerr != nil {
			return nil, fmt.Errorf("%w: decode metadata for %s: %v", cache.ErrCorruption, key, jerr)
		}
	}
	e.ContextFingerprint = ctxFP.String
	e.TTLSeconds = ttl.Int64
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastAccessed = e.LastAccessed.UTC()
	return &e, nil
}
