package models

import (
	"fmt"
	"time"
)

// Strategy selects the eviction policy for the cache engine.
type Strategy string

const (
	StrategyLRU              Strategy = "lru"
	StrategyLFU              Strategy = "lfu"
	StrategyPerformanceBased Strategy = "performance"
	StrategyTTL              Strategy = "ttl"
	StrategySimilarityBased  Strategy = "similarity"
)

// ParseStrategy validates a strategy name from configuration.
// An empty string selects the default performance-based strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLRU, StrategyLFU, StrategyPerformanceBased, StrategyTTL, StrategySimilarityBased:
		return Strategy(s), nil
	case "":
		return StrategyPerformanceBased, nil
	}
	return "", fmt.Errorf("unknown cache strategy %q", s)
}

// InvalidationReason records why an entry was removed from the cache.
type InvalidationReason string

const (
	ReasonExpired                InvalidationReason = "expired"
	ReasonSizeLimit              InvalidationReason = "size_limit"
	ReasonManual                 InvalidationReason = "manual"
	ReasonModelHealthChange      InvalidationReason = "model_health_change"
	ReasonPerformanceDegradation InvalidationReason = "performance_degradation"
	ReasonContextChange          InvalidationReason = "context_change"
)

// CacheEntry stores one cached LLM response with its access metadata.
type CacheEntry struct {
	Key                string         `json:"key"`
	PromptFingerprint  string         `json:"prompt_fingerprint"`
	PromptText         string         `json:"prompt_text"`
	ModelName          string         `json:"model_name"`
	Response           string         `json:"response"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	LastAccessed       time.Time      `json:"last_accessed"`
	AccessCount        int64          `json:"access_count"`
	PerformanceScore   float64        `json:"performance_score"`
	ContextFingerprint string         `json:"context_fingerprint,omitempty"`
	TTLSeconds         int64          `json:"ttl_seconds,omitempty"` // 0 = never expires
	SizeBytes          int64          `json:"size_bytes"`
}

// IsExpired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(e.TTLSeconds)*time.Second
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	TotalRequests           int64                        `json:"total_requests"`
	CacheHits               int64                        `json:"cache_hits"`
	CacheMisses             int64                        `json:"cache_misses"`
	CacheSize               int64                        `json:"cache_size"`
	TotalSizeBytes          int64                        `json:"total_size_bytes"`
	AvgResponseTimeCached   float64                      `json:"avg_response_time_cached"`
	AvgResponseTimeUncached float64                      `json:"avg_response_time_uncached"`
	Invalidations           map[InvalidationReason]int64 `json:"invalidations"`
}

// HitRate returns the fraction of requests served from the cache.
func (s CacheStats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRequests)
}

// MissRate returns 1 - HitRate.
func (s CacheStats) MissRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return 1 - s.HitRate()
}

// PerformanceImprovement returns the relative latency saved by cache hits,
// based on the caller-reported average response times.
func (s CacheStats) PerformanceImprovement() float64 {
	if s.AvgResponseTimeUncached == 0 {
		return 0
	}
	return (s.AvgResponseTimeUncached - s.AvgResponseTimeCached) / s.AvgResponseTimeUncached
}

// OptimizeResult reports the outcome of a cache optimization pass.
type OptimizeResult struct {
	ExpiredRemoved  int64    `json:"expired_removed"`
	Recommendations []string `json:"recommendations"`
}

// InvalidationEvent is an audit record of a single entry removal.
type InvalidationEvent struct {
	Key       string             `json:"key"`
	ModelName string             `json:"model_name"`
	Reason    InvalidationReason `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}
