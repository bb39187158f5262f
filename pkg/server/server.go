// Package server exposes the cache engine over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/recall-ai/recall/pkg/cache"
	cachepkg "github.com/recall-ai/recall/pkg/cache/sqlite"
	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/tracker"
)

// Server serves cache lookups, stores, stats, and optimization runs.
type Server struct {
	cfg     *config.Config
	cache   *cachepkg.Cache
	tracker tracker.Tracker
	mux     *http.ServeMux
}

// New creates a Server wired with its dependencies. The tracker may be
// nil when latency tracking is disabled.
func New(cfg *config.Config, c *cachepkg.Cache, t tracker.Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		cache:   c,
		tracker: t,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/v1/cache/lookup", s.handleLookup)
	s.mux.HandleFunc("/v1/cache/store", s.handleStore)
	s.mux.HandleFunc("/v1/cache/stats", s.handleStats)
	s.mux.HandleFunc("/v1/cache/optimize", s.handleOptimize)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("recall listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type lookupRequest struct {
	Prompt  string         `json:"prompt"`
	Model   string         `json:"model"`
	Context map[string]any `json:"context,omitempty"`
}

type lookupResponse struct {
	Hit      bool   `json:"hit"`
	Response string `json:"response,omitempty"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" || req.Model == "" {
		http.Error(w, "prompt and model are required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	response, hit, err := s.cache.Get(r.Context(), req.Prompt, req.Model, req.Context)
	if err != nil {
		writeCacheError(w, err)
		return
	}

	if hit {
		s.cache.RecordResponseTime(true, time.Since(start))
		s.recordSample(r.Context(), req.Model, true, time.Since(start))
	}

	writeJSON(w, http.StatusOK, lookupResponse{Hit: hit, Response: response})
}

type storeRequest struct {
	Prompt           string         `json:"prompt"`
	Model            string         `json:"model"`
	Response         string         `json:"response"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Context          map[string]any `json:"context,omitempty"`
	PerformanceScore float64        `json:"performance_score,omitempty"`
	TTLSeconds       int64          `json:"ttl_seconds,omitempty"`
	// LatencyMs is how long the caller spent computing the response
	// directly; it feeds the performance-improvement ratio.
	LatencyMs int64 `json:"latency_ms,omitempty"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" || req.Model == "" || req.Response == "" {
		http.Error(w, "prompt, model and response are required", http.StatusBadRequest)
		return
	}

	opts := cachepkg.PutOptions{
		Metadata:         req.Metadata,
		Context:          req.Context,
		PerformanceScore: req.PerformanceScore,
	}
	if req.TTLSeconds != 0 {
		opts.TTL = time.Duration(req.TTLSeconds) * time.Second
	}

	if err := s.cache.Put(r.Context(), req.Prompt, req.Model, req.Response, opts); err != nil {
		writeCacheError(w, err)
		return
	}

	if req.LatencyMs > 0 {
		d := time.Duration(req.LatencyMs) * time.Millisecond
		s.cache.RecordResponseTime(false, d)
		s.recordSample(r.Context(), req.Model, false, d)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":                   stats,
		"hit_rate":                stats.HitRate(),
		"miss_rate":               stats.MissRate(),
		"performance_improvement": stats.PerformanceImprovement(),
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.cache.Optimize(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recordSample(ctx context.Context, model string, cached bool, d time.Duration) {
	if s.tracker == nil {
		return
	}
	err := s.tracker.Record(ctx, tracker.Sample{
		Model:     model,
		Cached:    cached,
		LatencyMs: int64(d / time.Millisecond),
	})
	if err != nil {
		log.Printf("latency sample error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCacheError maps the cache error taxonomy to HTTP statuses. Any
// error means "cache unavailable": callers should compute directly.
func writeCacheError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cache.ErrSerialization):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, cache.ErrTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}
