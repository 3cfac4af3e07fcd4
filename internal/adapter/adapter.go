// Package adapter wires a Configuration into a running mount: tracker
// client, storage-node transport, directory cache, structured logger, and
// the FUSE dispatcher, started and stopped as one unit.
package adapter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/circuit"
	"github.com/objectfs/objectfs-fuse/internal/config"
	"github.com/objectfs/objectfs-fuse/internal/dircache"
	"github.com/objectfs/objectfs-fuse/internal/fuse"
	"github.com/objectfs/objectfs-fuse/internal/metrics"
	"github.com/objectfs/objectfs-fuse/internal/tracker"
	"github.com/objectfs/objectfs-fuse/internal/transport"
	"github.com/objectfs/objectfs-fuse/pkg/retry"
	"github.com/objectfs/objectfs-fuse/pkg/utils"
)

// Adapter wires a Configuration into a mounted filesystem.
type Adapter struct {
	mountPoint string
	config     *config.Configuration

	pool      *transport.Pool
	transport *transport.Client
	tracker   *tracker.Client
	dirCache  *dircache.Cache
	logger    *utils.StructuredLogger
	metrics   *metrics.Collector
	detailed  *metrics.DetailedPerformanceMetrics
	mountMgr  fuse.PlatformFileSystem

	started bool
}

// New creates an adapter for cfg, which must already be validated.
func New(ctx context.Context, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Adapter{
		mountPoint: mountPoint,
		config:     cfg,
	}, nil
}

// Start initializes every collaborator and mounts the filesystem.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("starting mount for domain %s at %s", a.config.Domain, a.mountPoint)

	level, err := utils.ParseLogLevel(a.config.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	loggerConfig := utils.DefaultStructuredLoggerConfig()
	loggerConfig.Level = level
	a.logger, err = utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if level == utils.DEBUG_FUSE {
		dm := utils.GetDebugManager()
		dm.SetLogger(a.logger)
		dm.StartSession(a.mountPoint, nil, 0)
	}

	a.pool, err = transport.NewPool(a.config.Transport.MaxIdlePerHost, a.config.Transport.IdleTimeout,
		a.config.Transport.MaxIdlePerHost, "")
	if err != nil {
		return fmt.Errorf("failed to initialize transport pool: %w", err)
	}

	retryer := retry.New(retry.Config{
		MaxAttempts:  a.config.Retry.MaxAttempts,
		InitialDelay: a.config.Retry.InitialDelay,
		MaxDelay:     a.config.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	})

	var breakers *circuit.Manager
	if a.config.Circuit.Enabled {
		breakers = circuit.NewManager(circuit.Config{
			MaxRequests: 1,
			Timeout:     a.config.Circuit.Timeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(a.config.Circuit.FailureThreshold)
			},
		})
	}

	a.transport = transport.NewClient(a.pool, a.config.Transport.RequestTimeout, retryer, breakers)
	a.tracker = tracker.New(a.config.Trackers, a.config.Domain, a.config.Class, a.transport)

	cacheTTL := a.config.FilePaths.DircacheDuration
	a.dirCache = dircache.New(cacheTTL, a.config.FilePaths.Dircache)

	a.metrics, err = metrics.NewCollector(&metrics.Config{
		Enabled:        a.config.Metrics.Enabled,
		Addr:           a.config.Metrics.Addr,
		Path:           "/metrics",
		Namespace:      "objectfs",
		UpdateInterval: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics listener: %w", err)
	}

	if a.config.Metrics.Enabled {
		a.detailed = metrics.NewDetailedPerformanceMetrics(10000, true)
	}

	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			ReadOnly: a.config.Readonly,
			FSName:   "objectfs-fuse",
			Subtype:  "mogilefs",
		},
	}

	deps := fuse.Deps{
		Tracker:   a.tracker,
		Transport: a.transport,
		DirCache:  a.dirCache,
		Config:    a.config,
		Logger:    a.logger,
		Metrics:   a.metrics,
		Detailed:  a.detailed,
	}

	a.mountMgr = fuse.CreatePlatformMountManager(deps, mountConfig)

	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.started = true
	log.Printf("mount started successfully")
	return nil
}

// Stop unmounts the filesystem and releases every collaborator.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("stopping mount at %s", a.mountPoint)

	utils.GetDebugManager().StopSession(a.mountPoint)

	var lastErr error

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("error unmounting filesystem: %v", err)
			lastErr = err
		}
	}

	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			log.Printf("error stopping metrics listener: %v", err)
			lastErr = err
		}
	}

	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			log.Printf("error closing transport pool: %v", err)
			lastErr = err
		}
	}

	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			log.Printf("error closing logger: %v", err)
			lastErr = err
		}
	}

	a.started = false
	log.Printf("mount stopped")
	return lastErr
}

// Stats returns the mount's filesystem operation statistics.
func (a *Adapter) Stats() *fuse.FilesystemStats {
	if a.mountMgr == nil {
		return &fuse.FilesystemStats{}
	}
	return a.mountMgr.GetStats()
}
