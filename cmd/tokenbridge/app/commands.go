// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the tokenbridge command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/tokenbridge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "tokenbridge",
	DisableAutoGenTag: true,
	Short:             "Tokenbridge links browser logins to native client tokens",
	Long: `Tokenbridge is an authentication bridge for native and CLI applications.

A native client that cannot host a browser login directs the user's browser
to tokenbridge, which runs the login against an upstream identity provider
and hands a signed backend token back to the native client through a
short-lived, PKCE-bound link request.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the tokenbridge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
