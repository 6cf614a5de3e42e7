package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leshchenko/tgpool/internal/adminauth"
	"github.com/leshchenko/tgpool/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for the admin HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc, err := adminauth.New(cfg.Admin.Token)
			if err != nil {
				return fmt.Errorf("construct admin auth service: %w", err)
			}

			token, err := svc.IssueToken(operator)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "name of the operator the token is issued to")
	cmd.MarkFlagRequired("operator")
	return cmd
}
