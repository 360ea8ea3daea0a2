package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/logger"
	"github.com/parcelforge/conveyor/queue"
)

var enqueueDelay time.Duration

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <job> [key=value ...]",
	Short: "Queue one invocation of a job",
	Long: `Queue one invocation of a job.

Payload entries are key=value pairs; "key=" sets an empty value and a
bare "key" stores an explicit null.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return err
		}

		jobName := args[0]
		payload, err := parsePayloadArgs(args[1:])
		if err != nil {
			return err
		}

		conn, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		store := queue.NewStore(conn, clock.NewSystem(), logger.Logger)
		inv, err := store.Enqueue(cmd.Context(), jobName, queue.SourceBackgroundEnqueue, payload, enqueueDelay)
		if err != nil {
			return err
		}

		fmt.Printf("enqueued %s invocation %s (visible at %s)\n",
			inv.JobName, inv.ID, inv.NextVisibleAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().DurationVar(&enqueueDelay, "delay", 0, "Delay before the invocation becomes visible")
}

func parsePayloadArgs(args []string) (queue.Payload, error) {
	if len(args) == 0 {
		return nil, nil
	}

	payload := queue.Payload{}
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if key == "" {
			return nil, errors.Newf("invalid payload entry %q", arg)
		}
		if found {
			payload.Set(key, value)
		} else {
			payload.SetNull(key)
		}
	}
	return payload, nil
}
