// Package cmd defines the halehub command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "halehub",
	Short: "Halehub condo-portal backend",
	Long: `Halehub is the backend service of a condo-community portal.

It ingests uploaded community documents into a searchable knowledge base
and answers resident questions grounded in those documents.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
