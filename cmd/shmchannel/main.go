// Command shmchannel hands shared memory buffers from a producer goroutine to
// a consumer goroutine over an in-process queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/shmpub/internal/cli"
	"github.com/coachpo/shmpub/internal/config"
	"github.com/coachpo/shmpub/internal/handoff"
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/payload"
	"github.com/coachpo/shmpub/internal/pool"
	"github.com/coachpo/shmpub/internal/producer"
	"github.com/coachpo/shmpub/internal/shm"
	"github.com/coachpo/shmpub/internal/telemetry"
)

const loggerPrefix = "shmchannel "

type options struct {
	configPath string
	shm        cli.SHMFlags
	set        map[string]bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("shmchannel", flag.ContinueOnError)
	cli.StringVar(fs, &opts.configPath, "", "path to configuration file (default: $SHMPUB_CONFIG)", "c", "config")
	opts.shm.Register(fs)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.set = cli.Visited(fs)
	return opts, nil
}

func (o options) apply(cfg *config.Config) error {
	o.shm.Apply(cfg, o.set)
	return cli.Finalize(cfg)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := cli.NewLogger(loggerPrefix)

	cfg, loadedFromFile, err := config.LoadOrDefault(ctx, opts.configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	if err := opts.apply(&cfg); err != nil {
		logger.Fatalf("apply flags: %v", err)
	}
	structured := cli.InstallLogger(logger, cfg.LogLevel())

	telemetryProvider, err := cli.InitTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	meter := telemetryProvider.Meter(telemetry.MeterName)

	record, err := payload.Sample()
	if err != nil {
		logger.Fatalf("load payload: %v", err)
	}

	fmt.Println("Creating Shared Memory Manager...")
	pools := pool.NewManager(
		pool.WithBackoff(cfg.SHM.Backoff.Std()),
		pool.WithLogger(structured),
		pool.WithMeter(meter),
	)
	poolName := strconv.Itoa(os.Getpid())
	if err := pools.RegisterPool(poolName, cfg.PoolSpec()); err != nil {
		logger.Fatalf("create shared memory pool: %v", err)
	}
	client, err := pools.Bind(poolName)
	if err != nil {
		logger.Fatalf("bind shared memory pool: %v", err)
	}

	queue := handoff.New[*shm.Buffer]()
	loop := &producer.Loop{
		Client:   client,
		Payload:  record,
		Sink:     producer.QueueSink{Queue: queue},
		ElemSize: cfg.SHM.ElementSize,
		Interval: cfg.Publisher.Interval.Std(),
		Window:   cfg.Publisher.Window,
		Label:    "Sending SHM Data",
		Out:      os.Stdout,
		Logger:   structured,
	}

	var lifecycle conc.WaitGroup
	// The consumer outlives ctx so it can release whatever is still queued.
	lifecycle.Go(func() {
		n, err := producer.Consume(context.Background(), queue, cfg.Publisher.Window, os.Stdout)
		structured.Debug("consumer stopped", observability.F("consumed", n), observability.F("error", err))
	})
	loopErr := make(chan error, 1)
	lifecycle.Go(func() {
		loopErr <- loop.Run(ctx)
	})

	var runErr error
	select {
	case <-ctx.Done():
		logger.Print("shutdown signal received, initiating graceful shutdown")
	case runErr = <-loopErr:
		if !cli.IsShutdown(runErr) {
			logger.Printf("producer stopped: %v", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	cli.Shutdown{
		MainCancel: cancel,
		Closers:    []func(){queue.Close},
		Lifecycle:  &lifecycle,
		Pools:      pools,
		PoolDrain:  cfg.SHM.DrainTimeout.Std(),
		Telemetry:  telemetryProvider,
	}.Run(shutdownCtx, logger)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))

	if code := cli.ExitCode(runErr); code != 0 {
		shutdownCancel()
		cancel()
		os.Exit(code)
	}
}
