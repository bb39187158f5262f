// Package sqlite implements the strategy-driven response cache on a
// SQLite durable store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recall-ai/recall/pkg/advisor"
	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
)

// opTimeout bounds every durable-store call so no operation blocks
// indefinitely.
const opTimeout = 5 * time.Second

// defaultPerformanceScore is stored when the caller supplies no rating.
const defaultPerformanceScore = 5.0

// similarityScoreFloor gates which entries are eligible as approximate
// match candidates.
const similarityScoreFloor = 7.0

// NoExpiry as a Put TTL stores an entry that never expires by time.
const NoExpiry = time.Duration(-1)

// Auditor receives invalidation events. Implementations must tolerate a
// nil receiver; the engine calls it for every removed entry.
type Auditor interface {
	Log(ctx context.Context, ev models.InvalidationEvent) error
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	MaxSizeBytes        int64           // default 500 MiB
	DefaultTTL          time.Duration   // default 1h; applied when Put gets no TTL
	Strategy            models.Strategy // default performance-based
	SimilarityThreshold float64         // default 0.8
	Auditor             Auditor         // optional invalidation log
}

// Cache is a persistent response cache with pluggable eviction. All
// mutating operations run under one engine-wide lock, so Get/Put/
// invalidation are linearizable with respect to each other.
type Cache struct {
	db         *sql.DB
	opts       Options
	evictOrder string // ORDER BY clause, fixed at construction

	mu              sync.Mutex
	stats           models.CacheStats
	cachedSamples   int64
	uncachedSamples int64
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	prompt_fingerprint TEXT NOT NULL,
	prompt_text TEXT NOT NULL,
	model_name TEXT NOT NULL,
	response TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	last_accessed DATETIME NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 1,
	performance_score REAL NOT NULL,
	context_fingerprint TEXT,
	ttl_seconds INTEGER,
	size_bytes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_prompt_fp ON cache_entries(prompt_fingerprint);
CREATE INDEX IF NOT EXISTS idx_cache_model ON cache_entries(model_name);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries(last_accessed);
`

// New opens the cache database, runs auto-migration, and reloads the
// persisted stats sidecar so hit-rate history survives restarts.
func New(dbPath string, opts Options) (*Cache, error) {
	if opts.MaxSizeBytes == 0 {
		opts.MaxSizeBytes = 500 << 20
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = time.Hour
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.8
	}
	strategy, err := models.ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, err
	}
	opts.Strategy = strategy

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open cache db: %v", cache.ErrStorageUnavailable, err)
	}

	if _, err := db.Exec(createEntriesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate cache db: %v", cache.ErrStorageUnavailable, err)
	}
	if _, err := db.Exec(createStatsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate stats table: %v", cache.ErrStorageUnavailable, err)
	}

	c := &Cache{
		db:         db,
		opts:       opts,
		evictOrder: evictOrderFor(strategy),
		stats: models.CacheStats{
			Invalidations: make(map[models.InvalidationReason]int64),
		},
	}
	if err := c.loadStats(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// evictOrderFor maps a strategy to its eviction ORDER BY clause. Strategies
// without a dedicated eviction rule reclaim space in LRU order.
func evictOrderFor(s models.Strategy) string {
	switch s {
	case models.StrategyLFU:
		return "access_count ASC, last_accessed ASC"
	case models.StrategyPerformanceBased:
		return "performance_score ASC, access_count ASC"
	default:
		return "last_accessed ASC"
	}
}

// opCtx bounds a store operation with the engine's timeout.
func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// storeErr classifies a database error into the cache error taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", cache.ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %v", cache.ErrStorageUnavailable, op, err)
}

// Get retrieves a cached response. A miss is (_, false, nil); errors mean
// the cache is unavailable, never "definitely not cached".
func (c *Cache) Get(ctx context.Context, prompt, modelName string, reqContext map[string]any) (string, bool, error) {
	key, err := cache.BuildKey(prompt, modelName, reqContext)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	c.stats.TotalRequests++

	var (
		response  string
		metadata  sql.NullString
		createdAt time.Time
		ttl       sql.NullInt64
	)
	err = c.db.QueryRowContext(ctx,
		`SELECT response, metadata, created_at, ttl_seconds FROM cache_entries WHERE key = ?`,
		key,
	).Scan(&response, &metadata, &createdAt, &ttl)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if c.opts.Strategy == models.StrategySimilarityBased {
			return c.getSimilar(ctx, prompt, modelName)
		}
		c.stats.CacheMisses++
		return "", false, nil
	case err != nil:
		return "", false, storeErr("get", err)
	}

	// A stored metadata blob that no longer decodes means the row is
	// corrupt: drop it and treat the lookup as a miss.
	if metadata.Valid && metadata.String != "" {
		var m map[string]any
		if jerr := json.Unmarshal([]byte(metadata.String), &m); jerr != nil {
			if derr := c.deleteEntry(ctx, key, modelName, models.ReasonSizeLimit); derr != nil {
				return "", false, derr
			}
			c.stats.CacheMisses++
			return "", false, nil
		}
	}

	entry := models.CacheEntry{CreatedAt: createdAt, TTLSeconds: ttl.Int64}
	if entry.IsExpired(time.Now().UTC()) {
		if derr := c.deleteEntry(ctx, key, modelName, models.ReasonExpired); derr != nil {
			return "", false, derr
		}
		c.stats.CacheMisses++
		return "", false, nil
	}

	if err := c.touch(ctx, key); err != nil {
		return "", false, err
	}
	c.stats.CacheHits++
	return response, true, nil
}

// getSimilar is the approximate-match fallback: score high-performing
// entries for the same model against the prompt and accept the best
// match at or above the configured threshold. Caller holds c.mu.
func (c *Cache) getSimilar(ctx context.Context, prompt, modelName string) (string, bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, prompt_text, response, created_at, ttl_seconds
		 FROM cache_entries WHERE model_name = ? AND performance_score > ?`,
		modelName, similarityScoreFloor,
	)
	if err != nil {
		return "", false, storeErr("similarity scan", err)
	}
	defer rows.Close()

	type candidate struct {
		key      string
		response string
	}
	var (
		prompts []string
		byText  = make(map[string]candidate)
		now     = time.Now().UTC()
	)
	for rows.Next() {
		var (
			key, text, response string
			createdAt           time.Time
			ttl                 sql.NullInt64
		)
		if err := rows.Scan(&key, &text, &response, &createdAt, &ttl); err != nil {
			return "", false, storeErr("scan similarity candidate", err)
		}
		e := models.CacheEntry{CreatedAt: createdAt, TTLSeconds: ttl.Int64}
		if e.IsExpired(now) {
			continue
		}
		if _, seen := byText[text]; !seen {
			byText[text] = candidate{key: key, response: response}
			prompts = append(prompts, text)
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, storeErr("similarity scan", err)
	}

	matches := cache.FindSimilar(cache.NormalizePrompt(prompt), prompts, c.opts.SimilarityThreshold)
	if len(matches) == 0 {
		c.stats.CacheMisses++
		return "", false, nil
	}

	best := byText[matches[0].Candidate]
	if err := c.touch(ctx, best.key); err != nil {
		return "", false, err
	}
	c.stats.CacheHits++
	return best.response, true, nil
}

// touch records a successful read on an entry. Caller holds c.mu.
func (c *Cache) touch(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE cache_entries SET access_count = access_count + 1, last_accessed = ? WHERE key = ?`,
		time.Now().UTC(), key,
	)
	if err != nil {
		return storeErr("update access", err)
	}
	return nil
}

// PutOptions carries the optional parts of a Put. Zero values mean: no
// metadata, no context, default performance score, engine default TTL.
// Pass NoExpiry as TTL for an entry that never expires by time.
type PutOptions struct {
	Metadata         map[string]any
	Context          map[string]any
	PerformanceScore float64
	TTL              time.Duration
}

// Put stores a response. Put is idempotent per key: storing the same
// (prompt, model, context) again replaces the existing row without
// double-counting its size.
func (c *Cache) Put(ctx context.Context, prompt, modelName, response string, opts PutOptions) error {
	key, err := cache.BuildKey(prompt, modelName, opts.Context)
	if err != nil {
		return err
	}
	promptFP := cache.PromptFingerprint(prompt)
	ctxFP, err := cache.ContextFingerprint(opts.Context)
	if err != nil {
		return err
	}

	var metadataJSON []byte
	if len(opts.Metadata) > 0 {
		metadataJSON, err = json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encode metadata: %v", cache.ErrSerialization, err)
		}
	}

	score := opts.PerformanceScore
	if score == 0 {
		score = defaultPerformanceScore
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.opts.DefaultTTL
	}
	var ttlSeconds sql.NullInt64
	if ttl > 0 {
		ttlSeconds = sql.NullInt64{Int64: int64(ttl / time.Second), Valid: true}
	}

	sizeBytes := int64(len(response) + len(key) + len(modelName) + len(metadataJSON))

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin put", err)
	}
	defer tx.Rollback()

	// Replace-then-insert inside one transaction keeps size accounting
	// exact when the key already exists.
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return storeErr("replace entry", err)
	}

	if err := c.ensureSpace(ctx, tx, sizeBytes); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cache_entries
		(key, prompt_fingerprint, prompt_text, model_name, response, metadata,
		 created_at, last_accessed, access_count, performance_score,
		 context_fingerprint, ttl_seconds, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		key, promptFP, cache.NormalizePrompt(prompt), modelName, response,
		nullString(string(metadataJSON)), now, now, score,
		nullString(ctxFP), ttlSeconds, sizeBytes,
	)
	if err != nil {
		return storeErr("insert entry", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit put", err)
	}
	return nil
}

// deleteEntry removes one row and records the invalidation. Caller holds
// c.mu.
func (c *Cache) deleteEntry(ctx context.Context, key, modelName string, reason models.InvalidationReason) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return storeErr("delete entry", err)
	}
	c.recordInvalidation(ctx, key, modelName, reason)
	return nil
}

// recordInvalidation bumps the reason counter and notifies the auditor.
// Caller holds c.mu.
func (c *Cache) recordInvalidation(ctx context.Context, key, modelName string, reason models.InvalidationReason) {
	c.stats.Invalidations[reason]++
	if c.opts.Auditor != nil {
		_ = c.opts.Auditor.Log(ctx, models.InvalidationEvent{
			Key:       key,
			ModelName: modelName,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		})
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordResponseTime feeds a caller-observed latency into the running
// averages behind the performance-improvement ratio.
func (c *Cache) RecordResponseTime(cached bool, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached {
		c.stats.AvgResponseTimeCached = runningAvg(c.stats.AvgResponseTimeCached, c.cachedSamples, ms)
		c.cachedSamples++
	} else {
		c.stats.AvgResponseTimeUncached = runningAvg(c.stats.AvgResponseTimeUncached, c.uncachedSamples, ms)
		c.uncachedSamples++
	}
}

func runningAvg(avg float64, n int64, sample float64) float64 {
	return (avg*float64(n) + sample) / float64(n+1)
}

// Optimize removes expired entries, evaluates the advisor heuristics
// against a fresh stats snapshot, and persists the stats sidecar.
func (c *Cache) Optimize(ctx context.Context) (models.OptimizeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := opCtx(ctx)
	defer cancel()

	removed, err := c.invalidateExpired(ctx)
	if err != nil {
		return models.OptimizeResult{}, err
	}

	stats, err := c.snapshotStats(ctx)
	if err != nil {
		return models.OptimizeResult{}, err
	}

	if err := c.persistStats(ctx); err != nil {
		return models.OptimizeResult{}, err
	}

	return models.OptimizeResult{
		ExpiredRemoved:  removed,
		Recommendations: advisor.Recommend(stats, c.opts.MaxSizeBytes),
	}, nil
}

// Close persists the stats sidecar and releases the database.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.persistStats(ctx); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
