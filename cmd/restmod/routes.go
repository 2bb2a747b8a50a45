package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/restmod/bootstrap"
	"github.com/artpar/restmod/core/formatter"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Long: `Compile the module files and print every generated route.

Examples:
  restmod routes
  restmod routes --modules ./modules
  restmod routes -o yaml
  restmod routes --json`,
	RunE: runRoutes,
}

var (
	routesOutput string
	routesJSON   bool
)

var routeColumns = []string{"method", "path", "entity", "operation", "auth", "description"}

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVarP(&routesOutput, "output", "o", "table", "output format: table, json or yaml")
	routesCmd.Flags().BoolVar(&routesJSON, "json", false, "shorthand for --output json")
}

// routeRow is one line of the route table as written by --output json.
type routeRow struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Entity      string `json:"entity"`
	Operation   string `json:"operation"`
	Auth        string `json:"auth,omitempty"`
	Description string `json:"description"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	output := routesOutput
	if routesJSON {
		output = "json"
	}
	f, err := formatter.Get(output)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := bootstrap.Compile(context.Background(), cfg.Modules.Dir, zerolog.Nop())
	if err != nil {
		return err
	}

	var rows []map[string]any
	for _, rt := range reg.Routes() {
		rows = append(rows, map[string]any{
			"method":      rt.Method,
			"path":        rt.Path,
			"entity":      rt.Entity,
			"operation":   string(rt.Operation),
			"auth":        rt.Auth,
			"description": rt.Description,
		})
	}

	return f.Format(cmd.OutOrStdout(), routeColumns, rows)
}
