// Package main provides the geaman CLI:
//
//	geaman run [case-id...]   run cases locally and print the report
//	geaman schema             export the case definition JSON Schema
//	geaman migrate            apply database migrations
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load() // .env is optional
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geaman",
		Short:         "Declarative test execution engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd(), newSchemaCmd(), newMigrateCmd())
	return root
}
