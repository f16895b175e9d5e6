package main

import (
	"escrowlane/pkg/escrowsdk"

	"github.com/spf13/cobra"
)

func newContractsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contracts",
		Aliases: []string{"contract"},
		Short:   "Create, sign and pay out contracts",
	}

	var in escrowsdk.CreateContractRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a contract between a buyer and a seller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := opts.client().CreateContract(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"contract_id": id})
		},
	}
	create.Flags().StringVar(&in.Payload, "payload", "", "opaque contract payload")
	create.Flags().StringVar(&in.Buyer, "buyer", "", "buyer principal")
	create.Flags().StringVar(&in.Seller, "seller", "", "seller principal")
	create.Flags().StringVar(&in.IdempotencyKey, "idempotency-key", "", "replay-safe request key")
	_ = create.MarkFlagRequired("buyer")
	_ = create.MarkFlagRequired("seller")

	get := &cobra.Command{
		Use:  "get <contract-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client().GetContract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, c)
		},
	}

	sign := &cobra.Command{
		Use:   "sign <contract-id>",
		Short: "Sign as the current principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := opts.client().Sign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"contract_id": args[0], "signed": signed})
		},
	}

	signed := &cobra.Command{
		Use:  "signed <contract-id>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := opts.client().IsSigned(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"contract_id": args[0], "signed": ok})
		},
	}

	var pay escrowsdk.PaymentRequest
	payCmd := &cobra.Command{
		Use:   "pay <contract-id>",
		Short: "Release the payout (frontend service principals only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.client().IssuePayment(cmd.Context(), args[0], pay)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	payCmd.Flags().StringVar(&pay.Seller, "seller", "", "seller principal the payout is made for")
	payCmd.Flags().StringVar(&pay.Destination, "to", "", "destination address (0x + 40 hex)")
	payCmd.Flags().Uint64Var(&pay.Amount, "amount", 0, "amount in token base units")
	_ = payCmd.MarkFlagRequired("seller")
	_ = payCmd.MarkFlagRequired("to")
	_ = payCmd.MarkFlagRequired("amount")

	payouts := &cobra.Command{
		Use:   "payouts <contract-id>",
		Short: "List recorded payout attempts (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().Payouts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}

	cmd.AddCommand(create, get, sign, signed, payCmd, payouts)
	return cmd
}
