// Command shmsub subscribes to a key expression and prints a window of every
// sample it receives.
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
	"github.com/coachpo/shmpub/internal/observability"
	"github.com/coachpo/shmpub/internal/producer"
	"github.com/coachpo/shmpub/internal/session"
	"github.com/coachpo/shmpub/internal/telemetry"
)

const loggerPrefix = "shmsub "

type options struct {
	configPath string
	key        string
	session    cli.SessionFlags
	set        map[string]bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("shmsub", flag.ContinueOnError)
	cli.StringVar(fs, &opts.configPath, "", "path to configuration file (default: $SHMPUB_CONFIG)", "c", "config")
	cli.StringVar(fs, &opts.key, "demo/example/**", "key expression to subscribe to", "k", "key")
	opts.session.Register(fs)
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
	if cli.AnySet(o.set, "k", "key") {
		cfg.Subscriber.Key = o.key
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

	telemetryProvider, err := cli.InitTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	fmt.Println("Opening session...")
	sessCfg := cfg.SessionOptions()
	sessCfg.Logger = structured
	sessCfg.Meter = telemetryProvider.Meter(telemetry.MeterName)
	sess, err := session.Open(ctx, sessCfg)
	if err != nil {
		logger.Fatalf("open session: %v", err)
	}
	logger.Printf("session %s open: locators=%v", sess.ID(), sess.Locators())

	fmt.Printf("Declaring Subscriber on '%s'...\n", cfg.Subscriber.Key)
	sub, err := sess.DeclareSubscriber(ctx, cfg.Subscriber.Key)
	if err != nil {
		logger.Fatalf("declare subscriber: %v", err)
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		n, err := producer.ConsumeSamples(ctx, sub.C, cfg.Publisher.Window, os.Stdout)
		structured.Debug("subscriber stopped", observability.F("received", n), observability.F("error", err))
	})

	logger.Print("subscriber started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	cli.Shutdown{
		MainCancel: cancel,
		Closers:    []func(){sub.Close},
		Lifecycle:  &lifecycle,
		Session:    sess,
		Telemetry:  telemetryProvider,
	}.Run(shutdownCtx, logger)
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}
