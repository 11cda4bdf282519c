package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lessc0de/rethinkdb"
)

func newPingCmd(cfg *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect, handshake, and disconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func dial(ctx context.Context, cfg *rootConfig) (*rethinkdb.Connection, error) {
	return rethinkdb.Connect(ctx, rethinkdb.NewConfig(
		rethinkdb.WithHost(cfg.host),
		rethinkdb.WithPort(cfg.port),
		rethinkdb.WithDB(cfg.db),
		rethinkdb.WithAuthKey(cfg.authKey),
		rethinkdb.WithTimeout(cfg.timeout),
		rethinkdb.WithLogger(cfg.logger()),
	))
}
