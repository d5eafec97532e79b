package main

import (
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Flag synced records whose remote copy is gone",
		Long: `Check every synced record against the remote account.

Records whose remote file was trashed or deleted are flipped to error
state so the next sync pass can re-upload them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			orch := newOrchestrator(s, newGatewayPool(s, logger), logger)

			flipped, err := orch.Reconcile(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]int64{"flagged": flipped})
			}

			statusf("Flagged %d records with missing remote copies\n", flipped)

			return nil
		},
	}
}
