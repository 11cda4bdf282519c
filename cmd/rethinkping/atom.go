package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lessc0de/rethinkdb"
)

func newAtomCmd(cfg *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "atom <json-term>",
		Short: "Run a raw JSON query term and print the resulting atom or rows",
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

			return conn.RunWithBlock(cmd.Context(), rethinkdb.Literal{V: term}, rethinkdb.PerQueryOptions{}, func(res *rethinkdb.Result) error {
				return printResult(cmd, res)
			})
		},
	}
}

func printResult(cmd *cobra.Command, res *rethinkdb.Result) error {
	if res.Atom != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(res.Atom))
		return nil
	}
	if res.Cursor == nil {
		return nil
	}
	return res.Cursor.Each(cmd.Context(), func(row json.RawMessage) error {
		fmt.Fprintln(cmd.OutOrStdout(), string(row))
		return nil
	})
}
