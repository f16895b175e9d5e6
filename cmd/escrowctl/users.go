package main

import (
	"escrowlane/pkg/domain"

	"github.com/spf13/cobra"
)

func newUsersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage role assignments (admin only)",
	}

	list := &cobra.Command{
		Use:  "list",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := opts.client().ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, users)
		},
	}

	create := &cobra.Command{
		Use:   "create <principal> <role>",
		Short: "Assign a role to a new principal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[1])
			if err != nil {
				return err
			}
			if err := opts.client().CreateUser(cmd.Context(), args[0], role); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"principal": args[0], "role": role})
		},
	}

	update := &cobra.Command{
		Use:   "update <principal> <role>",
		Short: "Set a principal's role, creating the record if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[1])
			if err != nil {
				return err
			}
			if err := opts.client().UpdateUser(cmd.Context(), args[0], role); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"principal": args[0], "role": role})
		},
	}

	remove := &cobra.Command{
		Use:  "remove <principal>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().RemoveUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"removed": args[0]})
		},
	}

	cmd.AddCommand(list, create, update, remove)
	return cmd
}
