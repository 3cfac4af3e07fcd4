//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/objectfs-fuse/internal/handle"
	"github.com/objectfs/objectfs-fuse/internal/tracker"
	"github.com/objectfs/objectfs-fuse/pkg/errors"
)

// CgoFuseFS implements the mount's flat-path FUSE surface via cgofuse,
// the cross-platform alternative to the hanwen/go-fuse Inode-embedding
// dispatcher in dispatcher.go. Every operation delegates to the same
// tracker/transport/dircache/handle collaborators.
type CgoFuseFS struct {
	fuse.FileSystemBase

	deps  Deps
	stats Stats

	mu         sync.RWMutex
	openFiles  map[uint64]*cgoFuseHandle
	nextHandle uint64
	host       *fuse.FileSystemHost
	mounted    bool
	mountPoint string
}

// cgoFuseHandle pairs a raw cgofuse file-handle number with the
// underlying stateful handle.Handle doing the real I/O.
type cgoFuseHandle struct {
	path string
	h    *handle.Handle
}

// NewCgoFuseFS builds a cgofuse-backed filesystem over deps.
func NewCgoFuseFS(deps Deps, mountPoint string) *CgoFuseFS {
	return &CgoFuseFS{
		deps:       deps,
		openFiles:  make(map[uint64]*cgoFuseHandle),
		nextHandle: 1,
		mountPoint: mountPoint,
	}
}

func (cf *CgoFuseFS) handleDeps() handle.Deps {
	return handle.Deps{
		Tracker:   cf.deps.Tracker,
		Transport: cf.deps.Transport,
		Domain:    cf.deps.Config.Domain,
	}
}

func (cf *CgoFuseFS) readonly() bool {
	return cf.deps.Config.Readonly
}

// errno returns the positive POSIX errno for err, so call sites can negate
// it to match cgofuse's -errno return convention.
func (cf *CgoFuseFS) errno(err error) int {
	if err == nil {
		return 0
	}
	atomic.AddInt64(&cf.stats.Errors, 1)
	return int(-errors.ToErrno(err))
}

func (cf *CgoFuseFS) dirEntries(ctx context.Context, dir string) (map[string]tracker.PathEntry, error) {
	now := time.Now()
	if files, ok := cf.deps.DirCache.Get(dir, now); ok {
		atomic.AddInt64(&cf.stats.CacheHits, 1)
		return files, nil
	}
	atomic.AddInt64(&cf.stats.CacheMisses, 1)

	list, err := cf.deps.Tracker.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]tracker.PathEntry, len(list))
	for _, e := range list {
		files[e.Name] = e
	}
	cf.deps.DirCache.Put(dir, files, now)
	return files, nil
}

func (cf *CgoFuseFS) invalidate(dir string, flushParent bool) {
	cf.deps.DirCache.Invalidate(dir, flushParent)
}

func dirOf(path string) string {
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// Mount mounts the filesystem via cgofuse's host.
func (cf *CgoFuseFS) Mount(ctx context.Context) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=objectfs-fuse",
		"-o", "subtype=mogilefs",
	}
	if cf.readonly() {
		options = append(options, "-o", "ro")
	}

	go func() {
		ret := cf.host.Mount(cf.mountPoint, options)
		if ret != 0 {
			log.Printf("mount failed with code: %d", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	cf.mounted = true
	log.Printf("mounted at: %s", cf.mountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}

	if cf.host != nil {
		if ret := cf.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}

	cf.mounted = false
	log.Printf("unmounted from: %s", cf.mountPoint)
	return nil
}

// IsMounted returns whether the filesystem is mounted.
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

// Getattr gets file attributes.
func (cf *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	ctx := context.Background()

	perm := uint32(0444)
	if !cf.readonly() {
		perm |= 0222
	}

	if path == "/" {
		stat.Mode = fuse.S_IFDIR | perm | 0111
		stat.Nlink = 2
		return 0
	}

	parent := dirOf(path)
	name := path[strings.LastIndex(path, "/")+1:]

	entries, err := cf.dirEntries(ctx, parent)
	if err != nil {
		return -cf.errno(err)
	}
	e, ok := entries[name]
	if !ok {
		return -int(syscall.ENOENT)
	}

	if e.IsDirectory {
		stat.Mode = fuse.S_IFDIR | perm | 0111
		stat.Nlink = 2
		return 0
	}

	stat.Mode = fuse.S_IFREG | perm
	stat.Size = e.Size
	stat.Nlink = 1
	stat.Mtim.Sec = e.Modified.Unix()
	return 0
}

// Open opens a file, constructing one handle.Handle per call.
func (cf *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	ctx := context.Background()
	atomic.AddInt64(&cf.stats.Opens, 1)

	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if writable && cf.readonly() {
		return -int(syscall.EACCES), 0
	}

	cfg := cf.deps.Config
	h, err := handle.New(ctx, cf.handleDeps(), path, writable, cfg.Buffered, cfg.Checksums, cfg.Threaded)
	if err != nil {
		return -cf.errno(err), 0
	}

	cf.mu.Lock()
	id := cf.nextHandle
	cf.nextHandle++
	cf.openFiles[id] = &cgoFuseHandle{path: path, h: h}
	cf.mu.Unlock()

	return 0, id
}

// Read reads from an open handle.
func (cf *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	ctx := context.Background()

	cf.mu.RLock()
	entry, ok := cf.openFiles[fh]
	cf.mu.RUnlock()
	if !ok {
		return -int(syscall.EBADF)
	}

	atomic.AddInt64(&cf.stats.Reads, 1)
	data, err := entry.h.Read(ctx, int64(len(buff)), ofst)
	if err != nil {
		return -cf.errno(err)
	}
	atomic.AddInt64(&cf.stats.BytesRead, int64(len(data)))
	copy(buff, data)
	return len(data)
}

// Write writes to an open handle.
func (cf *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	ctx := context.Background()

	if cf.readonly() {
		return -int(syscall.EACCES)
	}

	cf.mu.RLock()
	entry, ok := cf.openFiles[fh]
	cf.mu.RUnlock()
	if !ok {
		return -int(syscall.EBADF)
	}

	atomic.AddInt64(&cf.stats.Writes, 1)
	n, err := entry.h.Write(ctx, buff, ofst)
	if err != nil {
		return -cf.errno(err)
	}
	atomic.AddInt64(&cf.stats.BytesWritten, int64(n))
	return n
}

// Release closes a file, releasing its handle and invalidating the
// directory cache.
func (cf *CgoFuseFS) Release(path string, fh uint64) int {
	ctx := context.Background()

	cf.mu.Lock()
	entry, ok := cf.openFiles[fh]
	delete(cf.openFiles, fh)
	cf.mu.Unlock()
	if !ok {
		return 0
	}

	if err := entry.h.Release(ctx); err != nil {
		return -cf.errno(err)
	}
	cf.invalidate(dirOf(entry.path), true)
	return 0
}

// Readdir lists dir via the directory cache.
func (cf *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	ctx := context.Background()

	fill(".", nil, 0)
	fill("..", nil, 0)

	entries, err := cf.dirEntries(ctx, path)
	if err != nil {
		return -cf.errno(err)
	}

	for name, e := range entries {
		stat := &fuse.Stat_t{}
		if e.IsDirectory {
			stat.Mode = fuse.S_IFDIR | 0755
			stat.Nlink = 2
		} else {
			stat.Mode = fuse.S_IFREG | 0644
			stat.Size = e.Size
			stat.Nlink = 1
		}
		if !fill(name, stat, 0) {
			break
		}
	}

	return 0
}

// Mkdir materializes a directory the same way the hanwen/go-fuse
// dispatcher does: create and immediately delete a random probe file.
func (cf *CgoFuseFS) Mkdir(path string, mode uint32) int {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES)
	}

	probe := path + "/.objectfs-mkdir-" + fmt.Sprintf("%d", time.Now().UnixNano())
	h, err := handle.New(ctx, cf.handleDeps(), probe, true, false, false, false)
	if err != nil {
		return -cf.errno(err)
	}
	if err := h.Release(ctx); err != nil {
		return -cf.errno(err)
	}
	if err := cf.deps.Tracker.Delete(ctx, probe); err != nil {
		return -cf.errno(err)
	}
	cf.invalidate(dirOf(path), true)
	return 0
}

// Unlink removes a key via the tracker.
func (cf *CgoFuseFS) Unlink(path string) int {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES)
	}
	if err := cf.deps.Tracker.Delete(ctx, path); err != nil {
		return -cf.errno(err)
	}
	cf.invalidate(dirOf(path), true)
	return 0
}

// Rmdir succeeds only if the virtual directory has no remaining entries.
func (cf *CgoFuseFS) Rmdir(path string) int {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES)
	}
	entries, err := cf.dirEntries(ctx, path)
	if err != nil {
		return -cf.errno(err)
	}
	if len(entries) > 0 {
		return -int(syscall.ENOTEMPTY)
	}
	cf.invalidate(dirOf(path), true)
	return 0
}

// Rename moves oldpath to newpath within the domain.
func (cf *CgoFuseFS) Rename(oldpath string, newpath string) int {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES)
	}
	if err := cf.deps.Tracker.Rename(ctx, oldpath, newpath); err != nil {
		return -cf.errno(err)
	}
	cf.invalidate(dirOf(oldpath), true)
	cf.invalidate(dirOf(newpath), true)
	return 0
}

// Truncate resizes a file via a dedicated write handle.
func (cf *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES)
	}

	cf.mu.RLock()
	entry, ok := cf.openFiles[fh]
	cf.mu.RUnlock()

	if ok {
		if err := entry.h.Truncate(ctx, size); err != nil {
			return -cf.errno(err)
		}
		return 0
	}

	cfg := cf.deps.Config
	h, err := handle.New(ctx, cf.handleDeps(), path, true, cfg.Buffered, cfg.Checksums, cfg.Threaded)
	if err != nil {
		return -cf.errno(err)
	}
	if err := h.Truncate(ctx, size); err != nil {
		return -cf.errno(err)
	}
	if err := h.Release(ctx); err != nil {
		return -cf.errno(err)
	}
	cf.invalidate(dirOf(path), true)
	return 0
}

// Create materializes an empty object then opens it.
func (cf *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	ctx := context.Background()
	if cf.readonly() {
		return -int(syscall.EACCES), 0
	}

	empty, err := handle.New(ctx, cf.handleDeps(), path, true, false, false, false)
	if err != nil {
		return -cf.errno(err), 0
	}
	if err := empty.Release(ctx); err != nil {
		return -cf.errno(err), 0
	}
	cf.invalidate(dirOf(path), true)

	return cf.Open(path, flags)
}

// Statfs aggregates mb_total across every device and mb_free only for
// devices that are both alive and observed writeable, reporting 1 MiB
// blocks.
func (cf *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	ctx := context.Background()

	devices, err := cf.deps.Tracker.GetDevices(ctx)
	if err != nil {
		return -cf.errno(err)
	}

	const mib = 1024 * 1024
	var totalMB, freeMB int64
	for _, d := range devices {
		totalMB += d.MBTotal
		if d.Status == "alive" && d.ObservedState == "writeable" {
			freeMB += d.MBFree
		}
	}

	stat.Bsize = mib
	stat.Frsize = mib
	stat.Blocks = safeInt64ToUint64(totalMB)
	stat.Bfree = safeInt64ToUint64(freeMB)
	stat.Bavail = stat.Bfree
	stat.Namemax = 255
	return 0
}

// GetStats returns a snapshot of filesystem operation statistics.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	return &FilesystemStats{
		Lookups:      atomic.LoadInt64(&cf.stats.Lookups),
		Opens:        atomic.LoadInt64(&cf.stats.Opens),
		Reads:        atomic.LoadInt64(&cf.stats.Reads),
		Writes:       atomic.LoadInt64(&cf.stats.Writes),
		BytesRead:    atomic.LoadInt64(&cf.stats.BytesRead),
		BytesWritten: atomic.LoadInt64(&cf.stats.BytesWritten),
		CacheHits:    atomic.LoadInt64(&cf.stats.CacheHits),
		CacheMisses:  atomic.LoadInt64(&cf.stats.CacheMisses),
		Errors:       atomic.LoadInt64(&cf.stats.Errors),
	}
}
