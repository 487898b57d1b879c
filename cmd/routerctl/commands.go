// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ai-Ev1lC0rP/N8N2MCP/cmd/routerctl/internal/adminclient"
	"github.com/ai-Ev1lC0rP/N8N2MCP/config"
	"github.com/ai-Ev1lC0rP/N8N2MCP/router"
)

type globalOptions struct {
	server string
	token  string
	secret string
}

// client builds an admin client, signing a token from --secret when no
// token was given.
func (o *globalOptions) client() (*adminclient.Client, error) {
	token := o.token
	if token == "" && o.secret != "" {
		signed, err := router.IssueAdminToken(o.secret, "routerctl", 5*time.Minute)
		if err != nil {
			return nil, err
		}
		token = signed
	}
	return adminclient.New(o.server, token), nil
}

func registerCmd(opts *globalOptions) *cobra.Command {
	var resourceID, apiKey, file string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register handler source for a resource id and api key",
		Long: `Register (or replace) the handler source served at <prefix>/<resource-id>/<api-key>.

Examples:
  routerctl register --resource-id wf-1 --api-key abcd1234 --file tools.lua
  cat tools.lua | routerctl register --resource-id wf-1 --api-key abcd1234 --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceID == "" || apiKey == "" || file == "" {
				return fmt.Errorf("--resource-id, --api-key and --file are required")
			}
			source, err := readSource(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			client, err := opts.client()
			if err != nil {
				return err
			}
			reg, err := client.Register(resourceID, apiKey, source)
			if err != nil {
				return fmt.Errorf("failed to register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s at %s\n", reg.ResourceID, reg.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&resourceID, "resource-id", "r", "", "Resource id (required)")
	cmd.Flags().StringVarP(&apiKey, "api-key", "k", "", "Caller api key (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Handler source file, or - for stdin (required)")
	return cmd
}

func buildN8NCmd(opts *globalOptions) *cobra.Command {
	var workflowID, apiKey string

	cmd := &cobra.Command{
		Use:   "build-n8n",
		Short: "Register the built-in n8n workflow tools for a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowID == "" || apiKey == "" {
				return fmt.Errorf("--workflow-id and --api-key are required")
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			reg, err := client.BuildN8N(workflowID, apiKey)
			if err != nil {
				return fmt.Errorf("failed to register workflow: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered workflow %s at %s\n", reg.ResourceID, reg.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowID, "workflow-id", "w", "", "n8n workflow id (required)")
	cmd.Flags().StringVarP(&apiKey, "api-key", "k", "", "Caller api key (required)")
	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			entries, err := client.List()
			if err != nil {
				return fmt.Errorf("failed to list: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No registered entries.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE ID\tAPI KEY\tPATH\tSTATUS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ResourceID, e.MaskedAPIKey, e.Path, e.Status)
			}
			return w.Flush()
		},
	}
}

func removeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <resource-id> <api-key>",
		Short: "Remove a registration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			if err := client.Remove(args[0], args[1]); err != nil {
				return fmt.Errorf("failed to remove: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the router's engine session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			status, err := client.CredentialStatus()
			if err != nil {
				return fmt.Errorf("failed to fetch status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Extracted:  %t\n", status.Extracted)
			fmt.Fprintf(out, "Browser ID: %s\n", orNone(status.BrowserID))
			fmt.Fprintf(out, "Auth token: %s\n", orNone(status.AuthToken))
			return nil
		},
	}
}

func tokenCmd(opts *globalOptions) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed admin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("--secret (or ADMIN_JWT_SECRET) is required")
			}
			token, err := router.IssueAdminToken(opts.secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "routerctl", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with router configuration files",
	}

	var output string
	example := &cobra.Command{
		Use:   "example",
		Short: "Print an annotated example configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := config.GenerateExampleConfigFile()
			if output == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), content)
				return err
			}
			if err := os.WriteFile(output, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote example configuration to %s\n", output)
			return nil
		},
	}
	example.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	validate := &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewYAMLConfigFileLoader(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (version %s)\n", args[0], loader.File().Version)
			return nil
		},
	}

	cmd.AddCommand(example, validate)
	return cmd
}

func readSource(stdin io.Reader, file string) (string, error) {
	var raw []byte
	var err error
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("reading handler source: %w", err)
	}
	return string(raw), nil
}

func orNone(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}
