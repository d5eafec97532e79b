package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// recentSessionLimit bounds the session history shown by status.
const recentSessionLimit = 10

// statusReport is the JSON shape of the status command.
type statusReport struct {
	ActiveConfig *statusConfig      `json:"active_config,omitempty"`
	Credentials  []statusCredential `json:"credentials"`
	Attachments  []statusAttachment `json:"attachments"`
	Sessions     []statusSession    `json:"sessions"`
}

type statusConfig struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	AutoSync   bool     `json:"auto_sync"`
	RootFolder string   `json:"root_folder"`
	Models     []string `json:"models"`
	Extensions []string `json:"extensions"`
}

type statusCredential struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Expiry  string `json:"expiry,omitempty"`
	Account string `json:"account,omitempty"` // set by --check
}

type statusAttachment struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Bytes  int64  `json:"bytes"`
}

type statusSession struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Started   string `json:"started"`
	Processed int64  `json:"processed"`
	Success   int64  `json:"success"`
	Errors    int64  `json:"errors"`
}

func newStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show credentials, sync state, and recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := collectStatus(ctx, s)
			if err != nil {
				return err
			}

			if check {
				checkConnectivity(ctx, s, logger, report)
			}

			if flagJSON {
				return printJSON(report)
			}

			printStatus(report)

			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "query each authorized account to confirm connectivity")

	return cmd
}

// checkConnectivity fills in the account email per authorized
// credential, or an error note when the remote call fails.
func checkConnectivity(ctx context.Context, s *store.Store, logger *slog.Logger, report *statusReport) {
	pool := newGatewayPool(s, logger)

	for i, c := range report.Credentials {
		if c.State != string(auth.StateAuthorized) && c.State != "authorized (stale)" {
			continue
		}

		gw, err := pool.gateway(ctx, c.ID)
		if err != nil {
			report.Credentials[i].Account = "error: " + err.Error()
			continue
		}

		email, err := gw.About(ctx)
		if err != nil {
			report.Credentials[i].Account = "error: " + err.Error()
			continue
		}

		report.Credentials[i].Account = email
	}
}

func collectStatus(ctx context.Context, s *store.Store) (*statusReport, error) {
	report := &statusReport{}

	cfg, err := s.ActiveConfig(ctx)

	switch {
	case errors.Is(err, store.ErrNoActiveConfig):
		// status works without a configuration
	case err != nil:
		return nil, err
	default:
		sc := &statusConfig{
			ID:         cfg.ID,
			Name:       cfg.Name,
			AutoSync:   cfg.AutoSync,
			RootFolder: cfg.RootFolderName,
			Extensions: cfg.ActiveExtensions(),
		}

		for _, r := range cfg.ModelRules {
			if r.IsActive {
				sc.Models = append(sc.Models, r.Model)
			}
		}

		report.ActiveConfig = sc
	}

	creds, err := s.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range creds {
		report.Credentials = append(report.Credentials, statusCredential{
			ID:     c.ID,
			Name:   c.Name,
			State:  credentialState(c),
			Expiry: expiryString(c.Expiry),
		})
	}

	counts, err := s.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range counts {
		report.Attachments = append(report.Attachments, statusAttachment{
			Status: c.Status,
			Count:  c.Count,
			Bytes:  c.Bytes,
		})
	}

	sessions, err := s.RecentSessions(ctx, recentSessionLimit)
	if err != nil {
		return nil, err
	}

	for _, sess := range sessions {
		report.Sessions = append(report.Sessions, statusSession{
			ID:        sess.ID,
			Type:      sess.Type,
			Status:    sess.Status,
			Started:   formatTime(sess.StartedAt),
			Processed: sess.TotalProcessed,
			Success:   sess.TotalSuccess,
			Errors:    sess.TotalErrors,
		})
	}

	return report, nil
}

// credentialState folds token expiry into the display state: an
// authorized credential with a stale access token still refreshes on
// demand, so it stays "authorized (stale)" rather than expired.
func credentialState(c *auth.Credential) string {
	if c.State == auth.StateAuthorized && !c.Expiry.IsZero() && c.Expiry.Before(time.Now()) {
		return "authorized (stale)"
	}

	return string(c.State)
}

func expiryString(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(time.RFC3339)
}

func printStatus(report *statusReport) {
	if report.ActiveConfig != nil {
		cfg := report.ActiveConfig
		fmt.Printf("Active config: %s (id %d, auto-sync %v, root %q)\n",
			cfg.Name, cfg.ID, cfg.AutoSync, cfg.RootFolder)
		fmt.Printf("  Models: %v\n", cfg.Models)
		fmt.Printf("  Extensions: %v\n", cfg.Extensions)
	} else {
		fmt.Println("No active sync configuration")
	}

	fmt.Println()

	if len(report.Credentials) == 0 {
		fmt.Println("No credentials, run login first")
	} else {
		rows := make([][]string, 0, len(report.Credentials))
		for _, c := range report.Credentials {
			rows = append(rows, []string{strconv.FormatInt(c.ID, 10), c.Name, c.State, c.Account})
		}

		printTable(os.Stdout, []string{"ID", "NAME", "STATE", "ACCOUNT"}, rows)
	}

	fmt.Println()

	if len(report.Attachments) == 0 {
		fmt.Println("No attachments")
	} else {
		rows := make([][]string, 0, len(report.Attachments))
		for _, a := range report.Attachments {
			rows = append(rows, []string{a.Status, strconv.FormatInt(a.Count, 10), formatSize(a.Bytes)})
		}

		printTable(os.Stdout, []string{"STATUS", "COUNT", "SIZE"}, rows)
	}

	if len(report.Sessions) > 0 {
		fmt.Println()

		rows := make([][]string, 0, len(report.Sessions))
		for _, sess := range report.Sessions {
			rows = append(rows, []string{
				sess.Started,
				sess.Type,
				sess.Status,
				fmt.Sprintf("%d/%d ok, %d err", sess.Success, sess.Processed, sess.Errors),
			})
		}

		printTable(os.Stdout, []string{"STARTED", "TYPE", "STATUS", "RESULT"}, rows)
	}
}
