package main

import (
	"github.com/spf13/cobra"
)

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the payout rail",
	}

	address := &cobra.Command{
		Use:  "address",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.client().LedgerAddress(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"address": a})
		},
	}

	balance := &cobra.Command{
		Use:  "balance <address>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.client().Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	tokenBalance := &cobra.Command{
		Use:   "token-balance [address]",
		Short: "Token balance of address, or of the service account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			}
			b, err := opts.client().TokenBalance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			return printJSON(cmd, b)
		},
	}

	cmd.AddCommand(address, balance, tokenBalance)
	return cmd
}
