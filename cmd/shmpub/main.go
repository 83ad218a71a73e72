// Command shmpub publishes the sample telemetry record from shared memory
// buffers on a session key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/shmpub/internal/cli"
	"github.com/coachpo/shmpub/internal/config"
	"github.com/coachpo/shmpub/internal/payload"
	"github.com/coachpo/shmpub/internal/pool"
	"github.com/coachpo/shmpub/internal/producer"
	"github.com/coachpo/shmpub/internal/session"
	"github.com/coachpo/shmpub/internal/telemetry"
)

const loggerPrefix = "shmpub "

type options struct {
	configPath string
	path       string
	interval   time.Duration
	session    cli.SessionFlags
	shm        cli.SHMFlags
	set        map[string]bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("shmpub", flag.ContinueOnError)
	cli.StringVar(fs, &opts.configPath, "", "path to configuration file (default: $SHMPUB_CONFIG)", "c", "config")
	cli.StringVar(fs, &opts.path, "demo/example/shmpub", "key to publish on", "p", "path")
	fs.DurationVar(&opts.interval, "interval", 0, "pause between publications, e.g. 250ms (0 publishes as fast as possible)")
	opts.session.Register(fs)
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
	o.session.Apply(cfg, o.set)
	o.shm.Apply(cfg, o.set)
	if cli.AnySet(o.set, "p", "path") {
		cfg.Publisher.Key = o.path
	}
	if o.set["interval"] {
		cfg.Publisher.Interval = config.Duration(o.interval)
	}
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
	logger.Printf("configuration initialised: env=%s, mode=%s, key=%s, element=%dx%d",
		cfg.Environment, cfg.Session.Mode, cfg.Publisher.Key, cfg.SHM.ElementNumber, cfg.SHM.ElementSize)

	telemetryProvider, err := cli.InitTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	meter := telemetryProvider.Meter(telemetry.MeterName)

	record, err := payload.Sample()
	if err != nil {
		logger.Fatalf("load payload: %v", err)
	}

	fmt.Println("Opening session...")
	sessCfg := cfg.SessionOptions()
	sessCfg.Logger = structured
	sessCfg.Meter = meter
	sess, err := session.Open(ctx, sessCfg)
	if err != nil {
		logger.Fatalf("open session: %v", err)
	}
	logger.Printf("session %s open: locators=%v", sess.ID(), sess.Locators())

	fmt.Println("Creating Shared Memory Manager...")
	pools := pool.NewManager(
		pool.WithBackoff(cfg.SHM.Backoff.Std()),
		pool.WithLogger(structured),
		pool.WithMeter(meter),
	)
	poolName := sess.ID()
	if err := pools.RegisterPool(poolName, cfg.PoolSpec()); err != nil {
		logger.Fatalf("create shared memory pool: %v", err)
	}
	client, err := pools.Bind(poolName)
	if err != nil {
		logger.Fatalf("bind shared memory pool: %v", err)
	}

	fmt.Println("Allocating Shared Memory Buffer...")
	publisher, err := sess.DeclarePublisher(cfg.Publisher.Key)
	if err != nil {
		logger.Fatalf("declare publisher: %v", err)
	}

	loop := &producer.Loop{
		Client:   client,
		Payload:  record,
		Sink:     producer.PublisherSink{Publisher: publisher, Logger: structured},
		ElemSize: cfg.SHM.ElementSize,
		Interval: cfg.Publisher.Interval.Std(),
		Window:   cfg.Publisher.Window,
		Label:    fmt.Sprintf("Put SHM Data ('%s')", cfg.Publisher.Key),
		Out:      os.Stdout,
		Logger:   structured,
	}

	var lifecycle conc.WaitGroup
	loopErr := make(chan error, 1)
	lifecycle.Go(func() {
		loopErr <- loop.Run(ctx)
	})

	logger.Print("publisher started; awaiting shutdown signal")
	var runErr error
	select {
	case <-ctx.Done():
		logger.Print("shutdown signal received, initiating graceful shutdown")
	case runErr = <-loopErr:
		if !cli.IsShutdown(runErr) {
			logger.Printf("publisher stopped: %v", runErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	cli.Shutdown{
		MainCancel: cancel,
		Lifecycle:  &lifecycle,
		Session:    sess,
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
