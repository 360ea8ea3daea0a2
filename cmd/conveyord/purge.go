package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/logger"
	"github.com/parcelforge/conveyor/queue"
)

var purgeMaxAge time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete terminal invocation rows older than --max-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return err
		}

		conn, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		store := queue.NewStore(conn, clock.NewSystem(), logger.Logger)
		n, err := store.PurgeTerminal(cmd.Context(), purgeMaxAge)
		if err != nil {
			return err
		}

		fmt.Printf("purged %d invocation(s)\n", n)
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeMaxAge, "max-age", 24*time.Hour, "Retention window for terminal rows")
}
