package main

import (
	"github.com/spf13/cobra"

	"github.com/Jmendoza-user/drivesync/internal/server"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve synced files and the OAuth callback",
		Long: `Run the HTTP server.

GET /files/{id} streams synced file content through the disk cache.
GET /oauth/callback completes pending authorization flows.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := buildLogger()

			s, err := openStore(logger)
			if err != nil {
				return err
			}
			defer s.Close()

			pool := newGatewayPool(s, logger)

			dc, err := newDiskCache(s, pool, logger)
			if err != nil {
				return err
			}

			addr := resolvedCfg.Server.ListenAddr
			if listenAddr != "" {
				addr = listenAddr
			}

			srv := server.New(addr, s, dc, managerFactory(s, logger), logger)

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default from config)")

	return cmd
}
