package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/models"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutAndGet(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	if err := c.Put(ctx, "what is 2+2", "gpt-4", "4", PutOptions{}); err != nil {
		t.Fatal(err)
	}

	got, hit, err := c.Get(ctx, "what is 2+2", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got != "4" {
		t.Errorf("unexpected response: %q", got)
	}

	// Miss for a different model.
	_, hit, err = c.Get(ctx, "what is 2+2", "gpt-3.5-turbo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("expected cache miss for different model")
	}
}

func TestPutIdempotent(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := c.Put(ctx, "prompt", "gpt-4", "response", PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CacheSize != 1 {
		t.Errorf("expected 1 entry after duplicate put, got %d", stats.CacheSize)
	}

	key, _ := cache.BuildKey("prompt", "gpt-4", nil)
	entry, err := c.Entry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("expected entry to exist")
	}
	if stats.TotalSizeBytes != entry.SizeBytes {
		t.Errorf("total %d should equal single entry size %d", stats.TotalSizeBytes, entry.SizeBytes)
	}
}

func TestContextIsolation(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	ctxA := map[string]any{"temperature": 0.1}
	ctxB := map[string]any{"temperature": 0.9}

	if err := c.Put(ctx, "prompt", "gpt-4", "r1", PutOptions{Context: ctxA}); err != nil {
		t.Fatal(err)
	}
	if err := c.Put(ctx, "prompt", "gpt-4", "r2", PutOptions{Context: ctxB}); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.CacheSize != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", stats.CacheSize)
	}

	got, hit, err := c.Get(ctx, "prompt", "gpt-4", ctxA)
	if err != nil || !hit {
		t.Fatalf("expected hit for context A, hit=%v err=%v", hit, err)
	}
	if got != "r1" {
		t.Errorf("context A returned %q, want r1", got)
	}
}

func TestTTLBoundary(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	if err := c.Put(ctx, "prompt", "gpt-4", "response", PutOptions{TTL: time.Second}); err != nil {
		t.Fatal(err)
	}

	if _, hit, _ := c.Get(ctx, "prompt", "gpt-4", nil); !hit {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(1100 * time.Millisecond)

	_, hit, err := c.Get(ctx, "prompt", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("expected miss after expiry")
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Invalidations[models.ReasonExpired] != 1 {
		t.Errorf("expected 1 expired invalidation, got %d", stats.Invalidations[models.ReasonExpired])
	}
	if stats.CacheSize != 0 {
		t.Errorf("expired entry should be deleted, still %d rows", stats.CacheSize)
	}
}

func TestNoExpiry(t *testing.T) {
	c := newTestCache(t, Options{DefaultTTL: time.Second})
	ctx := context.Background()

	if err := c.Put(ctx, "prompt", "gpt-4", "response", PutOptions{TTL: NoExpiry}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(1100 * time.Millisecond)

	if _, hit, _ := c.Get(ctx, "prompt", "gpt-4", nil); !hit {
		t.Error("NoExpiry entry should outlive the default TTL")
	}
}

func TestAccessBookkeeping(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	if err := c.Put(ctx, "prompt", "gpt-4", "response", PutOptions{}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, hit, _ := c.Get(ctx, "prompt", "gpt-4", nil); !hit {
			t.Fatal("expected hit")
		}
	}

	key, _ := cache.BuildKey("prompt", "gpt-4", nil)
	entry, err := c.Entry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry.AccessCount != 4 { // 1 at insert + 3 reads
		t.Errorf("expected access count 4, got %d", entry.AccessCount)
	}
	if !entry.LastAccessed.After(entry.CreatedAt) && !entry.LastAccessed.Equal(entry.CreatedAt) {
		t.Error("last_accessed should advance with reads")
	}
}

func TestStatsConsistency(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.HitRate() != 0 {
		t.Errorf("hit rate with no requests should be 0, got %f", stats.HitRate())
	}

	_ = c.Put(ctx, "p", "m", "r", PutOptions{})
	c.Get(ctx, "p", "m", nil)     // hit
	c.Get(ctx, "other", "m", nil) // miss

	stats, err = c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 2 || stats.CacheHits != 1 || stats.CacheMisses != 1 {
		t.Errorf("unexpected counters: %+v", stats)
	}
	if got := stats.HitRate() + stats.MissRate(); got != 1.0 {
		t.Errorf("hit rate + miss rate = %f, want 1.0", got)
	}
}

func TestSimilarityHit(t *testing.T) {
	c := newTestCache(t, Options{
		Strategy:            models.StrategySimilarityBased,
		SimilarityThreshold: 0.8,
	})
	ctx := context.Background()

	err := c.Put(ctx, "How do I reverse a string in Python", "gpt-4", "use s[::-1]",
		PutOptions{PerformanceScore: 9.0})
	if err != nil {
		t.Fatal(err)
	}

	// Different casing and whitespace, same tokens.
	got, hit, err := c.Get(ctx, "how do I reverse  a STRING in python", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("expected similarity hit")
	}
	if got != "use s[::-1]" {
		t.Errorf("unexpected response: %q", got)
	}

	stats, _ := c.Stats(ctx)
	if stats.CacheHits != 1 {
		t.Errorf("similarity match should count as a hit, got %d", stats.CacheHits)
	}
}

func TestSimilarityIgnoresLowScoredEntries(t *testing.T) {
	c := newTestCache(t, Options{
		Strategy:            models.StrategySimilarityBased,
		SimilarityThreshold: 0.8,
	})
	ctx := context.Background()

	// Default score 5.0 is below the candidate floor.
	if err := c.Put(ctx, "describe the solar system", "gpt-4", "planets", PutOptions{}); err != nil {
		t.Fatal(err)
	}

	_, hit, err := c.Get(ctx, "describe THE solar system", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("low-scored entries must not serve similarity matches")
	}
}

func TestSimilarityMiss(t *testing.T) {
	c := newTestCache(t, Options{
		Strategy:            models.StrategySimilarityBased,
		SimilarityThreshold: 0.8,
	})
	ctx := context.Background()

	err := c.Put(ctx, "explain quicksort", "gpt-4", "divide and conquer",
		PutOptions{PerformanceScore: 9.0})
	if err != nil {
		t.Fatal(err)
	}

	_, hit, err := c.Get(ctx, "recipe for sourdough bread", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("unrelated prompt should miss")
	}

	stats, _ := c.Stats(ctx)
	if stats.CacheMisses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.CacheMisses)
	}
}

func TestCorruptRowDeletedOnGet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	err = c.Put(ctx, "prompt", "gpt-4", "response",
		PutOptions{Metadata: map[string]any{"source": "test"}})
	if err != nil {
		t.Fatal(err)
	}

	key, _ := cache.BuildKey("prompt", "gpt-4", nil)

	// Corrupt the stored metadata out of band.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE cache_entries SET metadata = '{broken' WHERE key = ?`, key); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	_, hit, err := c.Get(ctx, "prompt", "gpt-4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Fatal("corrupt row must not serve a hit")
	}

	entry, err := c.Entry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Error("corrupt row should have been deleted")
	}
}

func TestPutUnserializableMetadata(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	err := c.Put(ctx, "prompt", "gpt-4", "response",
		PutOptions{Metadata: map[string]any{"ch": make(chan int)}})
	if !errors.Is(err, cache.ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}

	stats, _ := c.Stats(ctx)
	if stats.CacheSize != 0 {
		t.Error("failed put must leave the store unchanged")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	c := newTestCache(t, Options{})
	ctx := context.Background()

	meta := map[string]any{"source": "unit", "tokens": float64(42)}
	if err := c.Put(ctx, "prompt", "gpt-4", "response", PutOptions{Metadata: meta}); err != nil {
		t.Fatal(err)
	}

	key, _ := cache.BuildKey("prompt", "gpt-4", nil)
	entry, err := c.Entry(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Metadata["source"] != "unit" || entry.Metadata["tokens"] != float64(42) {
		t.Errorf("unexpected metadata: %+v", entry.Metadata)
	}
}
