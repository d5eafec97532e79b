package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/migrate"
)

// migrateFlags collects the flag values shared by migrate and the
// migrate preview.
type migrateFlags struct {
	sourceCredential int64
	targetCredential int64
	sourceFolder     string
	targetFolder     string
	recursive        bool
	limit            int
	verify           bool
	deleteSource     bool
	deleteMode       string
}

func (f *migrateFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.sourceCredential, "from", 0, "source credential ID")
	cmd.Flags().Int64Var(&f.targetCredential, "to", 0, "target credential ID")
	cmd.Flags().StringVar(&f.sourceFolder, "source-folder", "", "migrate only files in this source folder ID")
	cmd.Flags().StringVar(&f.targetFolder, "target-folder", "", "upload into this folder name on the target")
	cmd.Flags().BoolVar(&f.recursive, "recursive", false, "descend into source subfolders")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "stop after this many files (0 = all)")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "verify checksum or size before rewriting records")
	cmd.Flags().BoolVar(&f.deleteSource, "delete-source", false, "remove source copies after verified transfer")
	cmd.Flags().StringVar(&f.deleteMode, "delete-mode", "trash", "source removal mode: trash or delete")
}

func (f *migrateFlags) options() (migrate.MigrateOptions, error) {
	if f.sourceCredential == 0 || f.targetCredential == 0 {
		return migrate.MigrateOptions{}, errors.New("--from and --to credential IDs are required")
	}

	if f.sourceCredential == f.targetCredential {
		return migrate.MigrateOptions{}, errors.New("source and target credentials must differ")
	}

	var mode drive.RemoveMode

	switch f.deleteMode {
	case "trash":
		mode = drive.RemoveTrash
	case "delete":
		mode = drive.RemoveDelete
	default:
		return migrate.MigrateOptions{}, fmt.Errorf("invalid delete mode %q, want trash or delete", f.deleteMode)
	}

	return migrate.MigrateOptions{
		SourceCredentialID: f.sourceCredential,
		TargetCredentialID: f.targetCredential,
		SourceFolderID:     f.sourceFolder,
		TargetFolderName:   f.targetFolder,
		Recursive:          f.recursive,
		Limit:              f.limit,
		VerifyIntegrity:    f.verify,
		DeleteSource:       f.deleteSource,
		DeleteMode:         mode,
	}, nil
}

func newMigrateCmd() *cobra.Command {
	var flags migrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move synced files between accounts",
		Long: `Copy synced files from one credential's account to another.

Each file is downloaded, re-uploaded, verified, and its record is
rewritten to point at the new copy. Source copies are only removed
with --delete-source, and never before verification passes.`,
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

			report, err := eng.Migrate(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return printReport(report)
		},
	}

	flags.bind(cmd)

	return cmd
}

func printReport(report *migrate.Report) error {
	if flagJSON {
		return printJSON(report)
	}

	statusf("Done: %d processed, %d succeeded, %d skipped, %d failed\n",
		report.Processed, report.Succeeded, report.Skipped, report.Failed)

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, report.Processed)
	}

	return nil
}
