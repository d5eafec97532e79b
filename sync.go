package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/store"
	"github.com/Jmendoza-user/drivesync/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [record-id]",
		Short: "Run one manual sync pass",
		Long: `Run one sync pass over the active configuration.

With a record ID argument, syncs that single attachment instead of a
full pass. The record must match the active configuration's rules.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, newGatewayPool(s, logger), logger)

			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return errors.New("record ID must be an integer")
				}

				return runSyncRecord(ctx, orch, id)
			}

			summary, err := orch.ManualSync(ctx)
			if err != nil {
				return err
			}

			return printSummary(summary)
		},
	}
}

func runSyncRecord(ctx context.Context, orch *syncer.Orchestrator, id int64) error {
	outcome, err := orch.SyncRecord(ctx, id)
	if errors.Is(err, syncer.ErrNotEligible) {
		return fmt.Errorf("record %d does not match the active configuration: %w", id, err)
	}

	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(outcome)
	}

	if outcome.Status == store.OutcomeError {
		return fmt.Errorf("record %d failed: %s", id, outcome.ErrorMsg)
	}

	statusf("Synced %s (%s) as %s\n", outcome.FileName, formatSize(outcome.SizeBytes), outcome.RemoteID)

	return nil
}

func printSummary(summary *syncer.Summary) error {
	if flagJSON {
		return printJSON(summary)
	}

	statusf("Sync complete: %d processed, %d succeeded, %d failed\n",
		summary.Total, summary.Succeeded, summary.Failed)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total)
	}

	return nil
}
