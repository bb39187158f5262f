// Package advisor evaluates cache statistics against tuning heuristics
// and produces human-readable recommendations.
package advisor

import (
	"fmt"

	"github.com/recall-ai/recall/pkg/models"
)

const (
	lowHitRate         = 0.3
	highFillRatio      = 0.9
	lowImprovement     = 0.2
	minRequestsForHint = 1
)

// Recommend returns zero or more advisory strings for a stats snapshot.
// It has no side effects; persistence is the caller's concern.
func Recommend(stats models.CacheStats, maxSizeBytes int64) []string {
	var recs []string

	if stats.TotalRequests >= minRequestsForHint && stats.HitRate() < lowHitRate {
		recs = append(recs, fmt.Sprintf(
			"hit rate is %.1f%%; consider increasing the cache size or the default TTL",
			stats.HitRate()*100))
	}

	if maxSizeBytes > 0 && stats.TotalSizeBytes > int64(highFillRatio*float64(maxSizeBytes)) {
		recs = append(recs, fmt.Sprintf(
			"cache is %.0f%% full (%d of %d bytes); consider raising max_size_mb or tightening the eviction policy",
			float64(stats.TotalSizeBytes)/float64(maxSizeBytes)*100,
			stats.TotalSizeBytes, maxSizeBytes))
	}

	if stats.AvgResponseTimeUncached > 0 && stats.PerformanceImprovement() < lowImprovement {
		recs = append(recs, fmt.Sprintf(
			"cached responses are only %.1f%% faster than direct ones; review the caching strategy",
			stats.PerformanceImprovement()*100))
	}

	return recs
}
