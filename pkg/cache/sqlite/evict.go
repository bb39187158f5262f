package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/recall-ai/recall/pkg/models"
)

// ensureSpace evicts entries, oldest-matching-policy first, until the
// pending insert fits or the store is empty. Runs inside the put
// transaction; caller holds c.mu.
func (c *Cache) ensureSpace(ctx context.Context, tx *sql.Tx, requiredBytes int64) error {
	var total sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM cache_entries`).Scan(&total); err != nil {
		return storeErr("sum sizes", err)
	}
	if total.Int64+requiredBytes <= c.opts.MaxSizeBytes {
		return nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT key, model_name, size_bytes FROM cache_entries ORDER BY `+c.evictOrder)
	if err != nil {
		return storeErr("select eviction candidates", err)
	}
	defer rows.Close()

	type victim struct {
		key   string
		model string
	}
	var victims []victim
	remaining := total.Int64
	for rows.Next() && remaining+requiredBytes > c.opts.MaxSizeBytes {
		var v victim
		var size int64
		if err := rows.Scan(&v.key, &v.model, &size); err != nil {
			return storeErr("scan eviction candidate", err)
		}
		victims = append(victims, v)
		remaining -= size
	}
	if err := rows.Err(); err != nil {
		return storeErr("select eviction candidates", err)
	}
	rows.Close()

	for _, v := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, v.key); err != nil {
			return storeErr("evict entry", err)
		}
		c.recordInvalidation(ctx, v.key, v.model, models.ReasonSizeLimit)
	}
	return nil
}

// InvalidateByModel deletes every entry for a model and returns the count.
func (c *Cache) InvalidateByModel(ctx context.Context, modelName string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE model_name = ?`, modelName)
	if err != nil {
		return 0, storeErr("select model entries", err)
	}
	keys, err := scanKeys(rows)
	if err != nil {
		return 0, err
	}

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE model_name = ?`, modelName)
	if err != nil {
		return 0, storeErr("invalidate model", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("invalidate model", err)
	}

	for _, k := range keys {
		c.recordInvalidation(ctx, k, modelName, models.ReasonModelHealthChange)
	}
	return n, nil
}

// InvalidateExpired deletes every TTL-bearing entry past its expiry and
// returns the count.
func (c *Cache) InvalidateExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	return c.invalidateExpired(ctx)
}

// invalidateExpired scans TTL-bearing entries and deletes the expired
// ones. Caller holds c.mu.
func (c *Cache) invalidateExpired(ctx context.Context) (int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, model_name, created_at, ttl_seconds FROM cache_entries WHERE ttl_seconds IS NOT NULL`)
	if err != nil {
		return 0, storeErr("select expirable entries", err)
	}
	defer rows.Close()

	type expired struct {
		key   string
		model string
	}
	var victims []expired
	now := time.Now().UTC()
	for rows.Next() {
		var (
			v         expired
			createdAt time.Time
			ttl       int64
		)
		if err := rows.Scan(&v.key, &v.model, &createdAt, &ttl); err != nil {
			return 0, storeErr("scan expirable entry", err)
		}
		e := models.CacheEntry{CreatedAt: createdAt, TTLSeconds: ttl}
		if e.IsExpired(now) {
			victims = append(victims, v)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, storeErr("select expirable entries", err)
	}
	rows.Close()

	for _, v := range victims {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, v.key); err != nil {
			return 0, storeErr("delete expired entry", err)
		}
		c.recordInvalidation(ctx, v.key, v.model, models.ReasonExpired)
	}
	return int64(len(victims)), nil
}

// Clear deletes all entries and resets every counter, including the
// persisted sidecar.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return storeErr("clear entries", err)
	}

	c.stats = models.CacheStats{
		Invalidations: make(map[models.InvalidationReason]int64),
	}
	c.cachedSamples = 0
	c.uncachedSamples = 0
	return c.persistStats(ctx)
}

func scanKeys(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, storeErr("scan key", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
