package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lessc0de/rethinkdb"
)

func newWatchCmd(cfg *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <json-changes-term>",
		Short: "Run a changefeed term and print every change as it arrives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var term interface{}
			if err := json.Unmarshal([]byte(args[0]), &term); err != nil {
				return fmt.Errorf("parsing query term: %w", err)
			}

			conn, err := dial(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())

			done := make(chan struct{})
			h := &rethinkdb.Handler{
				OnInitialVal: func(newVal json.RawMessage) {
					fmt.Fprintln(cmd.OutOrStdout(), "initial:", string(newVal))
				},
				OnChange: func(oldVal, newVal json.RawMessage) {
					fmt.Fprintln(cmd.OutOrStdout(), "change:", string(oldVal), "->", string(newVal))
				},
				OnChangeError: func(message string) {
					fmt.Fprintln(cmd.OutOrStdout(), "change error:", message)
				},
				OnError: func(err error) {
					fmt.Fprintln(cmd.OutOrStdout(), "error:", err)
					close(done)
				},
			}
			if err := conn.RunHandled(cmd.Context(), rethinkdb.Literal{V: term}, rethinkdb.PerQueryOptions{}, h); err != nil {
				return err
			}

			<-cmd.Context().Done()
			return nil
		},
	}
}
