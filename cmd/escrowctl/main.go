package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"escrowlane/pkg/escrowsdk"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	baseURL   string
	principal string
}

func (o *rootOptions) client() *escrowsdk.Client {
	return escrowsdk.New(o.baseURL, o.principal)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "escrowctl",
		Short:         "CLI for the escrow service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("ESCROW_URL", "http://localhost:8085"), "escrow service base URL")
	root.PersistentFlags().StringVar(&opts.principal, "principal", os.Getenv("ESCROW_PRINCIPAL"), "principal to call as (empty for anonymous)")

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Print the principal the service sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().Whoami(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"principal": p})
		},
	}

	root.AddCommand(whoami, newUsersCmd(opts), newContractsCmd(opts), newLedgerCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}
