package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/credfile"
	"github.com/Jmendoza-user/drivesync/internal/server"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// loginTimeout bounds how long the callback listener waits for the
// user to finish the consent flow in the browser.
const loginTimeout = 5 * time.Minute

func newLoginCmd() *cobra.Command {
	var (
		name         string
		clientID     string
		clientSecret string
		redirectURI  string
		credentialID int64
		importPath   string
		exportPath   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize a cloud drive account",
		Long: `Create or re-authorize an OAuth2 credential.

Prints the provider consent URL, then listens on the configured server
address for the OAuth callback. Use --import/--export to move a
credential as a JSON file instead of running the consent flow.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if importPath != "" {
				return runImportCredential(ctx, s, importPath)
			}

			if exportPath != "" && credentialID != 0 {
				return runExportCredential(ctx, s, credentialID, exportPath)
			}

			cred, err := loginCredential(ctx, s, credentialID, name, clientID, clientSecret, redirectURI)
			if err != nil {
				return err
			}

			return runConsentFlow(ctx, s, cred, exportPath, logger)
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "credential display name")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth2 redirect URI (default derived from server listen_addr)")
	cmd.Flags().Int64Var(&credentialID, "credential", 0, "re-authorize an existing credential by ID")
	cmd.Flags().StringVar(&importPath, "import", "", "import a credential from a JSON file")
	cmd.Flags().StringVar(&exportPath, "export", "", "export a credential to a JSON file (with --credential: export only, no consent flow)")

	return cmd
}

// loginCredential loads the credential to authorize, creating one from
// the flags when no existing ID was given.
func loginCredential(ctx context.Context, s *store.Store, credentialID int64, name, clientID, clientSecret, redirectURI string) (*auth.Credential, error) {
	if credentialID != 0 {
		cred, err := s.GetCredential(ctx, credentialID)
		if err != nil {
			return nil, err
		}

		if clientSecret != "" {
			cred.ClientSecret = clientSecret
		}

		return cred, nil
	}

	if clientID == "" || clientSecret == "" {
		return nil, errors.New("--client-id and --client-secret are required for a new credential")
	}

	if redirectURI == "" {
		redirectURI = fmt.Sprintf("http://%s/oauth/callback", resolvedCfg.Server.ListenAddr)
	}

	cred := &auth.Credential{
		Name:         name,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		State:        auth.StateDraft,
	}

	if err := s.CreateCredential(ctx, cred); err != nil {
		return nil, err
	}

	return cred, nil
}

// runConsentFlow prints the consent URL and serves the OAuth callback
// until the credential is authorized or the timeout elapses. If
// exportPath is non-empty the authorized credential is also written
// there.
func runConsentFlow(ctx context.Context, s *store.Store, cred *auth.Credential, exportPath string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	mgr := auth.NewManager(cred, s, logger)

	authURL, err := mgr.AuthURL(ctx)
	if err != nil {
		return err
	}

	statusf("Open this URL in your browser to authorize credential %d (%s):\n\n  %s\n\n", cred.ID, cred.Name, authURL)
	statusf("Waiting for the OAuth callback on %s...\n", resolvedCfg.Server.ListenAddr)

	pool := newGatewayPool(s, logger)

	dc, err := newDiskCache(s, pool, logger)
	if err != nil {
		return err
	}

	srv := server.New(resolvedCfg.Server.ListenAddr, s, dc, managerFactory(s, logger), logger)

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe(serveCtx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.New("timed out waiting for authorization, run login again")
		case err := <-errCh:
			if err != nil {
				return err
			}

			return errors.New("callback server stopped before authorization completed")
		case <-ticker.C:
			latest, err := s.GetCredential(ctx, cred.ID)
			if err != nil {
				return err
			}

			switch latest.State {
			case auth.StateAuthorized:
				statusf("Credential %d authorized.\n", cred.ID)

				if exportPath != "" {
					mirror := credfile.Store{Path: exportPath}
					if err := mirror.SaveCredential(ctx, latest); err != nil {
						return err
					}

					statusf("Saved credential %d to %s\n", cred.ID, exportPath)
				}

				return nil
			case auth.StateError, auth.StateExpired:
				return fmt.Errorf("authorization failed, credential %d is in state %s", cred.ID, latest.State)
			case auth.StateDraft, auth.StatePending:
				// keep waiting
			}
		}
	}
}

// runImportCredential loads a credential JSON file into the store.
func runImportCredential(ctx context.Context, s *store.Store, path string) error {
	cred, err := credfile.Load(path)
	if err != nil {
		return err
	}

	if cred == nil {
		return fmt.Errorf("credential file %s does not exist", path)
	}

	cred.ID = 0
	if err := s.CreateCredential(ctx, cred); err != nil {
		return err
	}

	statusf("Imported credential %d (%s) from %s\n", cred.ID, cred.Name, path)

	return nil
}

// runExportCredential writes one credential to a JSON file with 0600
// permissions.
func runExportCredential(ctx context.Context, s *store.Store, id int64, path string) error {
	cred, err := s.GetCredential(ctx, id)
	if err != nil {
		return err
	}

	if err := (credfile.Store{Path: path}).SaveCredential(ctx, cred); err != nil {
		return err
	}

	statusf("Exported credential %d (%s) to %s\n", cred.ID, cred.Name, path)

	return nil
}
