package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/restmod/bootstrap"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and module files",
	Long: `Validate the restmod configuration and compile every module.

Checks:
  - Config file (or environment) is valid
  - Every module file parses and compiles
  - Join references and collection names do not conflict
  - Store is reachable (optional)

Examples:
  restmod validate
  restmod validate --modules ./modules --check-store`,
	RunE: runValidate,
}

var validateCheckStore bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckStore, "check-store", false, "check that the configured store can be opened")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	source := cfgFile
	if _, err := os.Stat(cfgFile); err != nil {
		source = "environment"
	}
	fmt.Fprintf(out, "Validating %s...\n\n", source)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)
	fmt.Fprintf(out, "  %s Store: %s (%s)\n", checkMark, cfg.Store.DSN, cfg.Store.Driver)

	modules := cfg.Modules.Dir
	if modules == "" {
		modules = "bundled"
	}

	reg, err := bootstrap.Compile(context.Background(), cfg.Modules.Dir, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(out, "  %s Modules compile (%s)\n", crossMark, modules)
		return err
	}
	fmt.Fprintf(out, "  %s Modules compile (%s)\n", checkMark, modules)
	for _, name := range reg.Entities() {
		b := reg[name]
		fmt.Fprintf(out, "      %s -> /%s (%d routes)\n", name, b.Collection, len(b.Routes))
	}

	if validateCheckStore {
		store, err := bootstrap.OpenStore(context.Background(), cfg.Store)
		if err != nil {
			fmt.Fprintf(out, "  %s Store reachable\n", crossMark)
			return fmt.Errorf("store error: %w", err)
		}
		store.Close()
		fmt.Fprintf(out, "  %s Store reachable\n", checkMark)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
