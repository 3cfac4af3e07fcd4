// Command objectfs-fuse mounts a MogileFS domain as a local FUSE filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/objectfs/objectfs-fuse/internal/adapter"
	"github.com/objectfs/objectfs-fuse/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "path to a YAML configuration file")
		trackers    = flag.String("trackers", "", "comma-separated tracker host:port list, overrides the config file")
		domain      = flag.String("domain", "", "MogileFS domain, overrides the config file")
		class       = flag.String("class", "", "storage class for new files, overrides the config file")
		readonly    = flag.Bool("readonly", false, "mount read-only")
		logLevel    = flag.String("loglevel", "", "OFF/NOTICE/ERROR/DEBUG/DEBUG_BACKEND/DEBUG_FUSE, overrides the config file")
		metricsAddr = flag.String("metrics-addr", "", "enable the Prometheus metrics listener at this address, e.g. :9090")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <mountpoint>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("exactly one mountpoint argument is required")
	}
	mountPoint := flag.Arg(0)

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return fmt.Errorf("loading config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.Mountpoint = mountPoint
	if *trackers != "" {
		cfg.Trackers = strings.Split(*trackers, ",")
	}
	if *domain != "" {
		cfg.Domain = *domain
	}
	if *class != "" {
		cfg.Class = *class
	}
	if *readonly {
		cfg.Readonly = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := context.Background()
	a, err := adapter.New(ctx, mountPoint, cfg)
	if err != nil {
		return fmt.Errorf("constructing adapter: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("starting mount: %w", err)
	}

	waitForUnmount(a, mountPoint)
	return nil
}

// waitForUnmount blocks until SIGINT or SIGTERM, then stops the adapter.
func waitForUnmount(a *adapter.Adapter, mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	sig := <-signalChan
	log.Printf("received %v, unmounting %s", sig, mountPoint)

	ctx := context.Background()
	if err := a.Stop(ctx); err != nil {
		log.Printf("error during unmount: %v", err)
	}
}
