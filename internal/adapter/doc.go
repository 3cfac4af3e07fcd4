/*
Package adapter orchestrates a single mount: it owns the lifecycle of every
collaborator the FUSE dispatcher depends on and starts/stops them as one
unit.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│                 Client Apps                 │
	│            (ls, cp, cat, etc.)              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Kernel VFS/FUSE                  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              ADAPTER LAYER                  │ ← This package
	│  • Collaborator wiring                      │
	│  • Lifecycle management                     │
	│  • Configuration validation                 │
	└─────────────────────────────────────────────┘
	     │         │         │         │
	┌────┴───┐ ┌───┴────┐ ┌──┴─────┐ ┌─┴──────┐
	│Tracker │ │Transport│ │DirCache│ │ FUSE   │
	│ Client │ │  Pool   │ │        │ │Dispatch│
	└────────┘ └─────────┘ └────────┘ └────────┘

# Component Integration

Tracker Client: issues the MogileFS RPC verbs (list, get_paths, create_open,
create_close, delete, rename, file_info, update_class, get_devices) over
pooled HTTP.

Transport Pool: a bounded set of keep-alive HTTP clients shared by the
tracker client and every storage-node request, wrapped in retry-with-backoff
and, when enabled, per-origin circuit breaking.

Directory Cache: a short-TTL cache of tracker list() results, invalidated by
every mutating FUSE callback.

FUSE Dispatcher: the Inode-embedding filesystem (or, under the cgofuse build
tag, the flat-path cgofuse filesystem) that answers every POSIX callback
against the above three collaborators.

# Lifecycle Management

Startup sequence:

	1. Configuration validation
	2. Structured logger initialization
	3. Transport pool, retryer, and circuit-breaker manager construction
	4. Tracker client construction
	5. Directory cache construction
	6. Platform-specific FUSE filesystem mounting

Shutdown sequence:

	1. FUSE filesystem unmounting
	2. Transport pool closure
	3. Logger closure

# Usage Example

	cfg := config.NewDefault()
	cfg.Trackers = []string{"10.0.0.1:7001", "10.0.0.2:7001"}
	cfg.Domain = "mydomain"

	a, err := adapter.New(ctx, "/mnt/mogilefs", cfg)
	if err != nil {
		log.Fatal(err)
	}

	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer a.Stop(ctx)

	// Filesystem is now mounted and ready:
	// ls /mnt/mogilefs
	// cat /mnt/mogilefs/some/key
	// cp local-file /mnt/mogilefs/some/key

# Error Handling

Startup failures report which collaborator failed to initialize and leave no
partially-mounted filesystem behind. Shutdown is best-effort: a failure
unmounting or closing one collaborator doesn't prevent the others from being
released, and the last error encountered is returned.

# Thread Safety

Start and Stop are not meant to be called concurrently with each other, but
every collaborator they wire (tracker client, transport client, directory
cache, FUSE dispatcher) is safe for concurrent use once started.
*/
package adapter
