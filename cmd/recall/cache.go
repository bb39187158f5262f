package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/recall-ai/recall/pkg/audit"
	"github.com/recall-ai/recall/pkg/config"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			engine, auditor, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			defer func() { _ = auditor.Close() }()

			stats, err := engine.Stats(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Entries:      %d\n", stats.CacheSize)
			fmt.Printf("Size:         %d bytes\n", stats.TotalSizeBytes)
			fmt.Printf("Requests:     %d\n", stats.TotalRequests)
			fmt.Printf("Hits:         %d\n", stats.CacheHits)
			fmt.Printf("Misses:       %d\n", stats.CacheMisses)
			fmt.Printf("Hit rate:     %.1f%%\n", stats.HitRate()*100)
			if stats.AvgResponseTimeUncached > 0 {
				fmt.Printf("Cached avg:   %.1f ms\n", stats.AvgResponseTimeCached)
				fmt.Printf("Direct avg:   %.1f ms\n", stats.AvgResponseTimeUncached)
				fmt.Printf("Improvement:  %.1f%%\n", stats.PerformanceImprovement()*100)
			}
			if len(stats.Invalidations) > 0 {
				fmt.Println("Invalidations:")
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				for reason, n := range stats.Invalidations {
					fmt.Fprintf(w, "  %s\t%d\n", reason, n)
				}
				return w.Flush()
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all cache entries and reset statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			engine, auditor, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			defer func() { _ = auditor.Close() }()

			if err := engine.Clear(context.Background()); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	}

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Remove expired entries and print tuning recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			engine, auditor, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			defer func() { _ = auditor.Close() }()

			result, err := engine.Optimize(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Expired entries removed: %d\n", result.ExpiredRemoved)
			if len(result.Recommendations) == 0 {
				fmt.Println("No recommendations.")
				return nil
			}
			for _, rec := range result.Recommendations {
				fmt.Printf("- %s\n", rec)
			}
			return nil
		},
	}

	var model string
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate all entries for a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			if model == "" {
				return fmt.Errorf("--model is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			engine, auditor, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			defer func() { _ = auditor.Close() }()

			n, err := engine.InvalidateByModel(context.Background(), model)
			if err != nil {
				return err
			}
			fmt.Printf("Invalidated %d entries for %s.\n", n, model)
			return nil
		},
	}
	invalidateCmd.Flags().StringVar(&model, "model", "", "model whose entries to invalidate")

	var (
		logModel string
		logSince string
		logLimit int
	)
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent invalidation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled in config")
			}
			auditor, err := audit.New(cfg.Audit.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = auditor.Close() }()

			cutoff, err := since(logSince)
			if err != nil {
				return err
			}
			events, err := auditor.Query(context.Background(), audit.QueryOpts{
				Model: logModel,
				Since: cutoff,
				Limit: logLimit,
			})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No invalidation events found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMODEL\tREASON\tKEY")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					ev.CreatedAt.Format("2006-01-02T15:04:05"), ev.ModelName, ev.Reason, ev.Key)
			}
			return w.Flush()
		},
	}
	logCmd.Flags().StringVar(&logModel, "model", "", "filter by model")
	logCmd.Flags().StringVar(&logSince, "since", "", "lookback window, e.g. 24h")
	logCmd.Flags().IntVar(&logLimit, "limit", 100, "maximum events to show")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "recall.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd, optimizeCmd, invalidateCmd, logCmd)
	return cmd
}
