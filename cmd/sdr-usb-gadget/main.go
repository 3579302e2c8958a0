//go:build linux
// +build linux

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/sdrgadget/event"
	"github.com/fako1024/sdrgadget/ffs"
	"github.com/fako1024/sdrgadget/stream"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// version is set at build time via ldflags
var version = "devel"

// config holds the environment-provided daemon settings (prefixed with
// SDR_GADGET_, e.g. SDR_GADGET_STATS_PERIOD=10s)
type config struct {
	Buffers     int           `default:"16"`
	StatsPeriod time.Duration `split_words:"true"`
	RXDevice    string        `split_words:"true" default:"cf-ad9361-lpc"`
	TXDevice    string        `split_words:"true" default:"cf-ad9361-dds-core-lpc"`
}

func main() {

	var (
		debug       bool
		showVersion bool
	)
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger, err := newLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if flag.NArg() != 1 {
		logger.Fatalf("Usage: %s [-debug] <FunctionFS mount point>", os.Args[0])
	}

	var cfg config
	if err := envconfig.Process("sdr_gadget", &cfg); err != nil {
		logger.Fatalf("failed to read environment configuration: %s", err)
	}

	eps, err := ffs.Open(flag.Arg(0))
	if err != nil {
		logger.Fatalf("failed to initialize gadget function at %s: %s", flag.Arg(0), err)
	}
	defer func() {
		if err := eps.Close(); err != nil {
			logger.Errorf("failed to close gadget endpoints: %s", err)
		}
	}()

	supervisor, err := stream.NewSupervisor(logger, eps,
		stream.WithBuffers(cfg.Buffers),
		stream.WithStatsPeriod(cfg.StatsPeriod),
		stream.WithDevices(cfg.RXDevice, cfg.TXDevice),
	)
	if err != nil {
		logger.Fatalf("failed to initialize pipeline supervisor: %s", err)
	}

	if err := run(logger, eps, supervisor); err != nil {
		logger.Fatalf("control loop failed: %s", err)
	}
}

// run serves gadget control events until a termination signal arrives, then
// winds down all pipelines
func run(logger *zap.SugaredLogger, eps *ffs.Endpoints, supervisor *stream.Supervisor) error {

	reactor, err := event.NewReactor()
	if err != nil {
		return fmt.Errorf("failed to initialize control loop: %w", err)
	}
	defer func() {
		if err := reactor.Close(); err != nil {
			logger.Errorf("failed to close control loop: %s", err)
		}
	}()

	quitFd, err := event.New()
	if err != nil {
		return fmt.Errorf("failed to create termination event: %w", err)
	}
	defer func() {
		if err := quitFd.Close(); err != nil {
			logger.Errorf("failed to close termination event: %s", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Debugf("received signal %s", sig)
		_ = quitFd.Signal(event.SignalQuit)
	}()

	keepRunning := true
	if err := reactor.Register(int(quitFd), func() error {
		logger.Info("termination requested, shutting down")
		keepRunning = false
		return nil
	}); err != nil {
		return fmt.Errorf("failed to register termination event: %w", err)
	}
	if err := reactor.Register(eps.EP0, supervisor.ControlHandler(eps.EP0)); err != nil {
		return fmt.Errorf("failed to register control endpoint: %w", err)
	}

	logger.Info("gadget function up, serving control requests")
	for keepRunning {
		if err := reactor.Wait(stream.WaitTimeout); err != nil {
			// Best effort wind-down, the loop failure takes precedence
			if stopErr := supervisor.Close(); stopErr != nil {
				logger.Errorf("failed to stop pipelines: %s", stopErr)
			}
			return err
		}
	}

	return supervisor.Close()
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {

	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}
