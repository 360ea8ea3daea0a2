package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/parcelforge/conveyor/blob"
	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/config"
	"github.com/parcelforge/conveyor/dispatch"
	"github.com/parcelforge/conveyor/errors"
	"github.com/parcelforge/conveyor/joblog"
	"github.com/parcelforge/conveyor/jobs"
	"github.com/parcelforge/conveyor/logger"
	"github.com/parcelforge/conveyor/queue"
	"github.com/parcelforge/conveyor/runner"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := logger.Initialize(cfg.Log.JSON); err != nil {
			return err
		}
		log := logger.Logger

		conn, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		clk := clock.NewSystem()
		store := queue.NewStore(conn, clk, log)

		factory := &joblog.Factory{Base: log, Clock: clk}
		if cfg.Blob.Dir != "" {
			blobs, err := blob.NewFileStore(cfg.Blob.Dir)
			if err != nil {
				return errors.Wrap(err, "failed to open blob store")
			}
			factory.Blobs = blobs
		}

		registry := dispatch.NewRegistry()
		registry.Register(jobs.NewPurgeInvocationsDescription(store))

		opts := runner.Options{
			PollInterval: cfg.Workers.PollInterval,
			Invisibility: cfg.Workers.Invisibility,
		}
		if cfg.Workers.RatePerSecond > 0 {
			opts.RateLimit = rate.NewLimiter(rate.Limit(cfg.Workers.RatePerSecond), cfg.Workers.RateBurst)
		}

		var metrics *runner.Metrics
		if cfg.Metrics.Enabled {
			metrics = runner.NewMetrics(nil)
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
					log.Errorw("Metrics endpoint failed", logger.FieldError, err)
				}
			}()
		}

		svc := runner.NewService(runner.ServiceConfig{
			Instance:    cfg.Instance,
			Workers:     cfg.Workers.Count,
			StopTimeout: cfg.Workers.StopTimeout,
			Runner:      opts,
		}, store, dispatch.NewDispatcher(registry, log), factory, clk, log, metrics)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if cfg.Purge.Enabled {
			if err := schedulePurge(ctx, store, cfg); err != nil {
				return err
			}
		}

		svc.Start(ctx)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Infow("Shutting down on signal", "signal", s.String())

		svc.Stop()
		return nil
	},
}

// schedulePurge seeds the repeating purge job unless a live invocation
// of it already exists, so restarts do not pile up duplicate chains.
func schedulePurge(ctx context.Context, store *queue.Store, cfg *config.Config) error {
	latest, err := store.GetLatestForJob(ctx, jobs.PurgeInvocationsJobName)
	if err != nil {
		return err
	}
	if latest != nil && !latest.Terminal() {
		return nil
	}

	payload := queue.Payload{}
	payload.Set("maxAge", dispatch.FormatDuration(cfg.Purge.MaxAge))
	payload.Set("interval", dispatch.FormatDuration(cfg.Purge.Interval))

	_, err = store.Enqueue(ctx, jobs.PurgeInvocationsJobName, queue.SourceRepeating, payload, cfg.Purge.Interval)
	return err
}
