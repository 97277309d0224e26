package main

import (
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/objectives/pkg/cli"
	"mercator-hq/objectives/pkg/consumer"
	"mercator-hq/objectives/pkg/server"
	"mercator-hq/objectives/pkg/telemetry/health"
	"mercator-hq/objectives/pkg/variants"
)

var serveFlags struct {
	events        string
	listenAddress string
	registry      string
	refresh       time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the objectives service",
	Long: `Run the objectives service.

The service reduces reward events read as newline-delimited JSON from
--events, serves Prometheus metrics and health endpoints, prunes expired
idempotency keys and audit entries on the retention schedule, and reloads
the variant registry file when evaluation.watch is set.

When the event source is exhausted the service keeps serving until it
receives SIGINT or SIGTERM.

Endpoints:
  /metrics  - Prometheus metrics (telemetry.metrics.path)
  /health   - liveness
  /ready    - readiness: storage and registries are critical, the retention
              scheduler is optional
  /version  - build information

Examples:
  objectives serve --config config.yaml
  tail -F rewards.jsonl | objectives serve --events -
  objectives serve --listen 0.0.0.0:9090 --events rewards.jsonl`,
	RunE: serveRun,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.events, "events", "", "reward event JSONL file, - for stdin (default: no event source)")
	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override server.listen_address")
	serveCmd.Flags().StringVar(&serveFlags.registry, "registry", "", "registry file (default from config)")
	serveCmd.Flags().DurationVar(&serveFlags.refresh, "storage-refresh", 30*time.Second, "interval for refreshing storage gauges")
}

func serveRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if serveFlags.listenAddress != "" {
		a.cfg.Server.ListenAddress = serveFlags.listenAddress
	}

	registryPath := serveFlags.registry
	if registryPath == "" {
		registryPath = a.cfg.Evaluation.RegistryFile
	}
	registries, err := a.loadRegistries(registryPath)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	publisher, err := a.openPublisher()
	if err != nil {
		return err
	}
	decoder, err := consumer.NewDecoder(a.cfg.Consumer.SchemaValidationEnabled(), consumer.WithDecoderLogger(a.logger))
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	ctx, stop := cli.SignalContext(commandContext(cmd))
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	dispatcher := a.newDispatcher(a.newReducer(store, publisher), nil)
	dispatcher.Start(gctx)

	checker := health.New(a.cfg.Server.HealthCheckTimeout)
	checker.RegisterCheck("storage", health.StorageCheck(store))
	checker.RegisterCheck("registry", health.RegistryCheck(registries))

	if a.cfg.Retention.PruneSchedule != "" {
		pruner := a.newPruner(store)
		if err := pruner.Start(gctx); err != nil {
			dispatcher.Close()
			return cli.NewConfigError("retention.prune_schedule", err.Error())
		}
		defer pruner.Stop()
		checker.RegisterOptionalCheck("retention_scheduler", health.SchedulerCheck(pruner.Scheduler()))
	}

	if a.cfg.Evaluation.Watch {
		watcher := variants.NewWatcher(registryPath, registries, a.cfg.Evaluation.WatchDebounce, a.logger)
		g.Go(func() error { return watcher.Watch(gctx) })
	}

	collector := a.telemetry.Metrics()
	g.Go(func() error {
		collector.Storage().RefreshLoop(gctx, store, serveFlags.refresh, func(err error) {
			a.logger.Warn("failed to refresh storage metrics", "error", err)
		})
		return nil
	})

	opts := server.Options{
		Checker: checker,
		Version: health.VersionInfo{
			Version:   Version,
			Commit:    GitCommit,
			BuildTime: BuildDate,
			GoVersion: runtime.Version(),
		},
		Logger: a.logger,
	}
	if collector.Enabled() {
		opts.Metrics = collector.Handler()
		opts.MetricsPath = a.cfg.Telemetry.Metrics.Path
	}
	srv, err := server.NewServer(&a.cfg.Server, opts)
	if err != nil {
		dispatcher.Close()
		return cli.NewCommandError("serve", err)
	}
	g.Go(func() error { return srv.Start(gctx) })

	// The source is not part of the group: a read from stdin cannot be
	// interrupted, and shutdown must not wait for it.
	if serveFlags.events != "" {
		in, err := openInput(cmd, serveFlags.events)
		if err != nil {
			dispatcher.Close()
			return cli.NewConfigError("events", err.Error())
		}
		defer in.Close()

		source := consumer.NewLineSource(in, decoder)
		source.OnReject = func(e *consumer.DecodeError) {
			a.logger.Warn("rejected reward event", "line", e.Line, "error", e)
		}
		go func() {
			stats, err := source.Run(gctx, dispatcher)
			if err != nil && gctx.Err() == nil {
				a.logger.Error("event source failed", "error", err)
				return
			}
			a.logger.Info("event source exhausted",
				"lines", stats.Lines,
				"submitted", stats.Submitted,
				"rejected", stats.Rejected,
			)
		}()
	}

	a.logger.Info("objectives service started",
		"version", Version,
		"listen_address", a.cfg.Server.ListenAddress,
		"objectives", len(registries.ObjectiveIDs()),
		"partitions", a.cfg.Consumer.Partitions,
	)

	err = g.Wait()
	dispatcher.Close()
	a.logger.Info("objectives service stopped")
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	return nil
}
