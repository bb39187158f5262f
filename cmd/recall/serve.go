package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/recall-ai/recall/pkg/audit"
	cachepkg "github.com/recall-ai/recall/pkg/cache/sqlite"
	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/models"
	"github.com/recall-ai/recall/pkg/server"
	"github.com/recall-ai/recall/pkg/tracker"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cache HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			engine, auditor, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			defer func() { _ = auditor.Close() }()

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			srv := server.New(cfg, engine, tr)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting recall with config: %s", configPath)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "recall.yaml", "path to config file")
	return cmd
}

// openEngine builds the cache engine from configuration, wiring the
// invalidation audit log when enabled. The returned auditor is nil-safe.
func openEngine(cfg *config.Config) (*cachepkg.Cache, *audit.Logger, error) {
	var auditor *audit.Logger
	if cfg.Audit.Enabled {
		var err error
		auditor, err = audit.New(cfg.Audit.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("init audit log: %w", err)
		}
	}

	engine, err := cachepkg.New(cfg.DBPath, cachepkg.Options{
		MaxSizeBytes:        cfg.Cache.MaxSizeBytes(),
		DefaultTTL:          cfg.Cache.DefaultTTL,
		Strategy:            models.Strategy(cfg.Cache.Strategy),
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		Auditor:             auditor,
	})
	if err != nil {
		_ = auditor.Close()
		return nil, nil, fmt.Errorf("init cache: %w", err)
	}
	return engine, auditor, nil
}

// since parses a lookback window like "24h" for audit queries.
func since(window string) (time.Time, error) {
	if window == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(window)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since window: %w", err)
	}
	return time.Now().UTC().Add(-d), nil
}
