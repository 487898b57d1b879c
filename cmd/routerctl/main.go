// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

// Package main implements the routerctl CLI for managing router
// registrations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "routerctl",
		Short:         "n8n2mcp router CLI",
		Long:          `routerctl registers, lists and removes MCP handler definitions on a running router.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("ROUTER_URL", "http://localhost:6545"), "Router base URL")
	rootCmd.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv("ROUTER_ADMIN_TOKEN"), "Admin bearer token")
	rootCmd.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv("ADMIN_JWT_SECRET"), "Admin JWT secret; signs a short-lived token when --token is empty")

	rootCmd.AddCommand(registerCmd(opts))
	rootCmd.AddCommand(buildN8NCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(removeCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(tokenCmd(opts))
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
