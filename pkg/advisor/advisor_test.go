package advisor

import (
	"strings"
	"testing"

	"github.com/recall-ai/recall/pkg/models"
)

func TestRecommendHealthyCache(t *testing.T) {
	stats := models.CacheStats{
		TotalRequests:           100,
		CacheHits:               80,
		CacheMisses:             20,
		TotalSizeBytes:          100,
		AvgResponseTimeCached:   10,
		AvgResponseTimeUncached: 500,
	}
	recs := Recommend(stats, 1<<20)
	if len(recs) != 0 {
		t.Errorf("healthy cache should produce no recommendations, got %v", recs)
	}
}

func TestRecommendLowHitRate(t *testing.T) {
	stats := models.CacheStats{
		TotalRequests: 100,
		CacheHits:     10,
		CacheMisses:   90,
	}
	recs := Recommend(stats, 1<<20)
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if !strings.Contains(recs[0], "hit rate") {
		t.Errorf("unexpected recommendation: %s", recs[0])
	}
}

func TestRecommendNearCapacity(t *testing.T) {
	stats := models.CacheStats{
		TotalRequests:  10,
		CacheHits:      10,
		TotalSizeBytes: 95,
	}
	recs := Recommend(stats, 100)
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if !strings.Contains(recs[0], "full") {
		t.Errorf("unexpected recommendation: %s", recs[0])
	}
}

func TestRecommendLowImprovement(t *testing.T) {
	stats := models.CacheStats{
		TotalRequests:           10,
		CacheHits:               10,
		AvgResponseTimeCached:   95,
		AvgResponseTimeUncached: 100,
	}
	recs := Recommend(stats, 1<<20)
	if len(recs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(recs))
	}
	if !strings.Contains(recs[0], "strategy") {
		t.Errorf("unexpected recommendation: %s", recs[0])
	}
}

func TestRecommendNoRequests(t *testing.T) {
	recs := Recommend(models.CacheStats{}, 1<<20)
	if len(recs) != 0 {
		t.Errorf("an idle cache should produce no recommendations, got %v", recs)
	}
}
