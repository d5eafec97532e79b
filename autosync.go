package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newAutosyncCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "autosync",
		Short: "Run the scheduled sync loop",
		Long: `Run automatic sync over every auto-sync configuration.

Runs one pass and exits. With --interval, keeps running a pass every
interval until interrupted. Each pass is capped per model so one huge
backlog cannot starve other configurations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, newGatewayPool(s, logger), logger)

			if err := orch.AutomaticSync(ctx); err != nil {
				return err
			}

			if interval <= 0 {
				return nil
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := orch.AutomaticSync(ctx); err != nil {
						if ctx.Err() != nil {
							return nil
						}

						logger.Error("automatic sync pass failed", "error", err)
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat every interval (e.g. 10m); zero runs once")

	return cmd
}
