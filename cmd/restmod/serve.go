package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/restmod/bootstrap"
	"github.com/artpar/restmod/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the restmod HTTP server.

The server will:
  - Load configuration from restmod.yaml (or --config)
  - Or load configuration from RESTMOD_* environment variables
  - Open the document store (SQLite or MongoDB)
  - Compile every module and serve its routes
  - Serve /openapi.json, /docs, /metrics and /_schema when enabled

Environment variables:
  RESTMOD_STORE_DRIVER   - sqlite or mongo (default: sqlite)
  RESTMOD_STORE_DSN      - SQLite path or Mongo URI
  RESTMOD_MODULES_DIR    - Module directory (default: bundled modules)
  RESTMOD_SERVER_PORT    - Server port (default: 8080)
  RESTMOD_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  restmod serve
  restmod serve --config /etc/restmod/config.yaml
  restmod serve --modules ./modules --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, statErr := os.Stat(cfgFile)
	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		ConfigPath: cfgFile,
		Config:     cfg,
		Watch:      hotReload && statErr == nil,
	})
	if err != nil {
		return err
	}

	// Run (blocks until shutdown)
	return app.Run()
}

// loadConfig loads cfgFile or the environment and applies --modules.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, err
	}
	if modulesDir != "" {
		cfg.Modules.Dir = modulesDir
	}
	return cfg, nil
}
