package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/migrate"
)

// restoreFlags collects the flag values shared by restore and the
// restore preview.
type restoreFlags struct {
	credential   int64
	folder       string
	recursive    bool
	linkExisting bool
	defaultModel string
	defaultResID int64
}

func (f *restoreFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.credential, "from", 0, "credential ID holding the files")
	cmd.Flags().StringVar(&f.folder, "folder", "", "remote folder ID to restore from")
	cmd.Flags().BoolVar(&f.recursive, "recursive", false, "descend into subfolders")
	cmd.Flags().BoolVar(&f.linkExisting, "link-existing", true, "rehydrate records whose remote ID matches")
	cmd.Flags().StringVar(&f.defaultModel, "default-model", "", "create unmatched files under this model")
	cmd.Flags().Int64Var(&f.defaultResID, "default-res-id", 0, "owner record ID for unmatched files")
}

func (f *restoreFlags) options() (migrate.RestoreOptions, error) {
	if f.credential == 0 {
		return migrate.RestoreOptions{}, errors.New("--from credential ID is required")
	}

	if f.folder == "" {
		return migrate.RestoreOptions{}, errors.New("--folder is required")
	}

	return migrate.RestoreOptions{
		CredentialID: f.credential,
		FolderID:     f.folder,
		Recursive:    f.recursive,
		LinkExisting: f.linkExisting,
		DefaultModel: f.defaultModel,
		DefaultResID: f.defaultResID,
	}, nil
}

func newRestoreCmd() *cobra.Command {
	var flags restoreFlags

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Pull cloud files back into local records",
		Long: `Download files from a remote folder back into the entity store.

Files matching an existing record rehydrate its payload and flip it
back to local. Unmatched files are created under --default-model when
given, otherwise skipped.`,
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

			report, err := eng.Restore(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return printReport(report)
		},
	}

	flags.bind(cmd)

	return cmd
}
