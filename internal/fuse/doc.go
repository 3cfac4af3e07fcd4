/*
Package fuse implements the POSIX filesystem surface of a mounted MogileFS
volume: every kernel callback is answered by issuing tracker RPCs and
storage-node HTTP requests, never by touching local disk.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│        (ls, cat, cp, vim, databases)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Kernel VFS Layer                │
	│           (POSIX System Calls)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               FUSE Driver                    │
	│          (Platform-specific)                 │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              This Package                    │
	│  ┌─────────────────────────────────────────┐  │
	│  │        Cross-Platform Abstraction       │  │
	│  │  ┌─────────────┐ ┌─────────────────┐    │  │
	│  │  │ go-fuse     │ │ cgofuse         │    │  │
	│  │  │ (Linux)     │ │ (macOS/Windows) │    │  │
	│  │  └─────────────┘ └─────────────────┘    │  │
	│  └─────────────────────────────────────────┘  │
	│                     │                        │
	│  ┌─────────────────────────────────────────┐  │
	│  │   DirectoryNode / FileNode dispatch     │  │
	│  │  • list/lookup   • create/write/read    │  │
	│  │  • mkdir/rmdir    • xattr as class/meta │  │
	│  └─────────────────────────────────────────┘  │
	└─────────────────────────────────────────────┘
	         │                    │
	┌────────────────┐   ┌────────────────────┐
	│ Tracker Client  │   │ Copy-on-write      │
	│ (list, paths,   │   │ handle over pooled │
	│  create/delete) │   │ storage-node HTTP  │
	└────────────────┘   └────────────────────┘

# Platform Support

Multi-platform FUSE implementation with build constraints:

Default build (go-fuse):
- Target: Linux (primary platform)
- Implementation: github.com/hanwen/go-fuse/v2, Inode-embedding fs package
- DirectoryNode and FileNode embed fs.Inode and implement the fs.*er
  interfaces (Lookuper, Readdirer, Creater, Opener, ...)

CGO build (cgofuse):
- Target: macOS, Windows, Linux (fallback)
- Implementation: github.com/billziss-gh/cgofuse
- A single flat-path filesystem implementation answers the same callbacks
  against the same tracker/handle collaborators, since cgofuse's pathfs-style
  API has no Inode tree to embed into

Build selection:

	// Linux, go-fuse
	go build -tags default ./...

	// cgofuse, cross-platform
	go build -tags cgofuse ./...

# FileSystem Operations

DirectoryNode (virtual, derived from tracker list() results):
- Lookup, Readdir — list() the tracker for a directory prefix, synthesizing
  directory entries from the path segments shared by more than one key
- Mkdir — opens and immediately closes a zero-byte probe object under the
  new directory, then deletes it, so the directory has at least transiently
  existed in the tracker's namespace; rmdir refuses a directory with entries
- Create — materializes the new key as an empty committed object, then reopens
  it as a writable handle, so concurrent lookups see a real path immediately
- Unlink, Rename — delete() / rename() against the tracker
- Getxattr/Setxattr/Listxattr — exposes the tracker's class and checksum as
  extended attributes (e.g. "user.objectfs.class")
- Statfs — aggregates get_devices() into a block count across all devices
  and a free count across writable, alive devices

FileNode (one open tracker key):
- Open, Read, Write, Flush, Release, Fsync — delegate to a copy-on-write
  handle (see internal/handle) that reads ranges from the storage node
  holding the key's current path and, on the first write, begins building a
  new object at offset 0 that is committed via create_close on flush
- Getattr, Setattr — Setattr's truncate either shrinks the held handle's
  pending buffer or rewrites the full committed object
- Lock family — FUSE advisory locks (Getlk/Setlk/Setlkw) are served as
  process-local locks; no cross-client lock coordination is attempted

# Configuration

Mount options and timeouts come from the shared config.Configuration,
not from data in this package:

	cfg := config.NewDefault()
	cfg.Trackers = []string{"10.0.0.1:7001"}
	cfg.Domain = "mydomain"
	cfg.Mountpoint = "/mnt/mogilefs"
	cfg.Readonly = false
	cfg.MountOpts = []string{"allow_other"}

# Usage Example

Mounting is normally done through internal/adapter, which wires the tracker
client, transport pool, and directory cache before calling into this package:

	a, err := adapter.New(ctx, cfg.Mountpoint, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer a.Stop(ctx)

Constructing the dispatcher directly (as the adapter does internally):

	fsys := fuse.NewFileSystem(fuse.Deps{
		Tracker:   trackerClient,
		Transport: httpClient,
		DirCache:  dircache.New(2*time.Second, true),
		Config:    cfg,
	})
	server, err := gofuse.Mount(cfg.Mountpoint, fsys.Root(), &fs.Options{})

Standard POSIX operations then work transparently against the mount:

	os.Mkdir("/mnt/mogilefs/logs", 0755)
	os.WriteFile("/mnt/mogilefs/logs/today.log", data, 0644)
	entries, _ := os.ReadDir("/mnt/mogilefs/logs")

# Namespace Mapping

Files to keys:
- File path → tracker key (domain-relative, slash-separated)
- File content → bytes at the storage node path returned by get_paths/create_open
- File class → extended attribute "user.objectfs.class", changed via
  update_class
- Checksum, when enabled → extended attribute "user.objectfs.checksum",
  verified by the tracker at create_close

Directories:
- No directory objects exist in the tracker; a directory is the set of
  distinct first path segments among keys sharing a prefix
- Readdir entries are synthesized per Lookup, not cached beyond the
  directory cache's TTL
- mkdir/rmdir give directories transient tracker visibility (see Mkdir above)
  but do not persist an empty directory once its last descendant is removed

Unsupported:
- Symbolic links, hard links, device files, and named pipes return ENOTSUP;
  the tracker namespace has no representation for them

# Error Handling

Errors from the tracker client and storage-node handle are translated to
syscall.Errno at the dispatcher boundary:

- A name absent from its parent directory's listing, or a key with no
  storage paths → syscall.ENOENT
- Any mutating callback on a read-only mount → syscall.EACCES, returned
  before any tracker call
- Non-empty Rmdir target → syscall.ENOTEMPTY
- Unsupported special-file operations → syscall.EOPNOTSUPP
- Tracker errcode responses (including "unknown_key") and
  transport/circuit-breaker failures surface as syscall.EIO

Retries and circuit breaking happen below this package, in the transport
pool the tracker client and handles share; the dispatcher itself does not
retry.

# Thread Safety

FUSE callbacks arrive concurrently from the kernel. DirectoryNode and
FileNode hold no package-level mutable state beyond what fs.Inode already
synchronizes; per-open-file state lives in internal/handle.Handle, which is
safe for concurrent Read/Write/Flush from the same open file descriptor's
callbacks. The directory cache and tracker client are shared, concurrency-safe
collaborators across every node in the tree.
*/
package fuse
