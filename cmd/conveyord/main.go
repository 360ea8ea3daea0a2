// conveyord runs the background work service for the package registry:
// a durable invocation queue with a fleet of dispatch workers.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parcelforge/conveyor/config"
	"github.com/parcelforge/conveyor/db"
	"github.com/parcelforge/conveyor/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "conveyord",
	Short: "conveyord - background work service for the package registry",
	Long: `conveyord - durable background job execution.

conveyord owns the invocation queue: jobs are enqueued as durable rows,
leased to workers under a visibility timeout, executed through registered
handlers, and committed with at-most-once terminal results. Handlers may
suspend and resume through continuation rows, and repeating jobs
reschedule themselves.

Examples:
  conveyord serve                          # Run the worker fleet
  conveyord enqueue MirrorFeed feed=npm    # Queue one invocation
  conveyord purge --max-age 24h           # Delete old terminal rows`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to conveyor.toml (default: search ., ~/.conveyor, /etc/conveyor)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(purgeCmd)
}

// loadConfig resolves the configuration from --config or the search
// paths.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// openStore opens the database and brings the schema current.
func openStore(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
