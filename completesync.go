package main

import (
	"github.com/spf13/cobra"
)

func newCompleteSyncCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "complete-sync",
		Short: "Sync the entire backlog in batches",
		Long: `Sync every pending attachment of the active configuration.

Runs batch after batch until nothing is left. Interrupting is safe: the
session stays open and the next run resumes where it stopped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, newGatewayPool(s, logger), logger)

			summary, err := orch.CompleteSync(ctx, batchSize)
			if err != nil {
				return err
			}

			return printSummary(summary)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "files per batch (default from config)")

	return cmd
}
