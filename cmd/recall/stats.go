package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show response-time statistics per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			summaries, err := tr.Summaries(context.Background())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No latency data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tCACHED\tDIRECT\tCACHED AVG MS\tDIRECT AVG MS\tSAVED/HIT MS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\t%.1f\n",
					s.Model, s.CachedCount, s.DirectCount, s.AvgCachedMs, s.AvgDirectMs, s.SavedMsPerHit)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "recall.yaml", "path to config file")
	return cmd
}
