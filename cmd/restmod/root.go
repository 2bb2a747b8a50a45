package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile    string
	modulesDir string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "restmod",
	Short: "REST resources compiled from declarative module files",
	Long: `restmod serves CRUD REST resources generated from YAML module
definitions: validation rules, response shapes, joins and routes.

Quick start:
  restmod validate  # Check configuration and module files
  restmod routes    # Print the route table
  restmod serve     # Start the HTTP server`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "restmod.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&modulesDir, "modules", "m", "", "module directory (overrides config)")
}
