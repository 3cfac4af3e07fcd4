/*
Package config loads and validates the configuration for one objectfs-fuse
mount, with multi-source precedence: environment variables override a YAML
file, which overrides compiled-in defaults.

# Configuration Structure

The enumerated mount fields (trackers, domain, class, mountpoint, mountopts,
threaded, readonly, buffered, checksums, loglevel, filepaths.dircache) sit
alongside ambient tuning for the HTTP transport, the retry-with-backoff
wrapper, the per-origin circuit breakers, and the optional metrics listener.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/objectfs-fuse/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	trackers:
	  - tracker1.example.com:7001
	  - tracker2.example.com:7001
	domain: myapp
	class: replicated
	mountpoint: /mnt/objectfs
	mountopts: allow_other
	threaded: true
	readonly: false
	buffered: true
	checksums: false
	loglevel: NOTICE
	filepaths:
	  dircache: true
	  dircache_duration: 2s

Environment variable mapping:

	OBJECTFS_TRACKERS="tracker1:7001,tracker2:7001"
	OBJECTFS_DOMAIN="myapp"
	OBJECTFS_MOUNTPOINT="/mnt/objectfs"
	OBJECTFS_READONLY="false"
	OBJECTFS_LOGLEVEL="DEBUG"

# Validation

Validate checks the three required fields (trackers, domain, mountpoint), the
loglevel enum, and the ambient tuning knobs that would otherwise silently
disable retry or the directory cache.
*/
package config
