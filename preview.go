package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/migrate"
)

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what migrate or restore would do",
	}

	cmd.AddCommand(newPreviewMigrateCmd())
	cmd.AddCommand(newPreviewRestoreCmd())

	return cmd
}

func newPreviewMigrateCmd() *cobra.Command {
	var flags migrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Preview a migration without transferring anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}

			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			eng := migrate.New(s, newGatewayPool(s, logger).migrateFactory(), logger)

			p, err := eng.PreviewMigrate(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return printPreview(p)
		},
	}

	flags.bind(cmd)

	return cmd
}

func newPreviewRestoreCmd() *cobra.Command {
	var flags restoreFlags

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Preview a restore without transferring anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}

			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			eng := migrate.New(s, newGatewayPool(s, logger).migrateFactory(), logger)

			p, err := eng.PreviewRestore(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return printPreview(p)
		},
	}

	flags.bind(cmd)

	return cmd
}

func printPreview(p *migrate.Preview) error {
	if flagJSON {
		return printJSON(p)
	}

	statusf("%d files, %s total\n", p.Count, formatSize(p.TotalSize))

	if len(p.SampleNames) > 0 {
		rows := make([][]string, 0, len(p.SampleNames))
		for _, name := range p.SampleNames {
			rows = append(rows, []string{name})
		}

		printTable(os.Stdout, []string{"SAMPLE"}, rows)
	}

	return nil
}
