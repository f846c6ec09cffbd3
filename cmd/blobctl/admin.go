package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

func prefetchCommand(cfg *clientConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Prefetch management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trigger",
		Short: "Start a prefetch run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodPost, "/api/internal/prefetch", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the state of the latest prefetch run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodGet, "/api/internal/prefetch", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	return cmd
}

func tokenCommand(cfg *clientConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "API token management",
	}

	var (
		name  string
		scope string
	)
	create := &cobra.Command{
		Use:   "create [subject]",
		Short: "Create an API token; the token is only shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodPost, "/api/internal/tokens", map[string]any{
				"subject": args[0],
				"name":    name,
				"scope":   scope,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Token name")
	create.Flags().StringVar(&scope, "scope", "client", "Token scope: client, peer or admin")

	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodGet, "/api/internal/tokens", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [id]",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.newClient()
			if err != nil {
				return err
			}
			out, err := c.doJSON(cmd.Context(), http.MethodDelete, "/api/internal/tokens/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	return cmd
}
