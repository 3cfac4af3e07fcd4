// Package handle implements the open-file lifecycle: the state machine and
// I/O discipline that turns a stateful POSIX file handle into a sequence of
// stateless HTTP range requests against a remote object whose identity
// changes atomically on commit.
package handle

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/tracker"
	"github.com/objectfs/objectfs-fuse/internal/transport"
	"github.com/objectfs/objectfs-fuse/pkg/errors"
)

const cowChunkSize = 1 << 20 // 1 MiB

// State is one of the four states a handle may occupy.
type State int

const (
	StateReadOnly State = iota
	StateWriteNew
	StateWriteCOW
	StateWriteClean
)

func (s State) String() string {
	switch s {
	case StateReadOnly:
		return "R"
	case StateWriteNew:
		return "W_NEW"
	case StateWriteCOW:
		return "W_COW"
	case StateWriteClean:
		return "W_CLEAN"
	default:
		return "UNKNOWN"
	}
}

// Deps are the external collaborators a handle consumes: the tracker RPC
// client and the storage-node HTTP transport, plus the domain this mount
// serves. Both are safe for concurrent use by multiple handles.
type Deps struct {
	Tracker   *tracker.Client
	Transport *transport.Client
	Domain    string
}

var nextID uint64

// destination is the lazily allocated remote object a writable handle
// stages its writes into.
type destination struct {
	mu    sync.Mutex
	fid   uint64
	devid int
	url   string
	size  int64
	err   bool
}

func (d *destination) bumpSize(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > d.size {
		d.size = n
	}
}

func (d *destination) setSize(n int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.size = n
}

func (d *destination) setError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = true
}

func (d *destination) hasError() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *destination) sizeSnapshot() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Handle is one open file: path, flags, input paths, optional destination,
// copy-on-write cursor, dirty flag, and (via mixins) a write buffer and a
// running checksum. Exactly one Handle exists per id; the dispatcher's
// registry hands back the same object on every callback for that id.
type Handle struct {
	ID       uint64
	Path     string
	Writable bool

	deps Deps

	destMu sync.Mutex
	dest   *destination

	inputPaths []string
	priorSize  int64

	mu       sync.Mutex
	cowPtr   *int64
	hadPrior bool
	dirty    bool

	buffer   *writeBuffer
	checksum *checksumMixin
}

// New constructs a handle for path under the given writability. A
// non-writable open eagerly resolves input paths; an empty result is
// reported as errors.ErrCodeNotFound. A writable open with no prior object
// marks the handle dirty so close commits an empty object; with a prior
// object it begins copy-on-write at offset 0.
func New(ctx context.Context, deps Deps, path string, writable, buffered, checksums, threaded bool) (*Handle, error) {
	h := &Handle{
		ID:       atomic.AddUint64(&nextID, 1),
		Path:     path,
		Writable: writable,
		deps:     deps,
	}

	paths, err := deps.Tracker.GetPaths(ctx, path)
	if err != nil {
		return nil, err
	}

	if !writable {
		if len(paths) == 0 {
			return nil, errors.NotFound("handle", path)
		}
		h.inputPaths = paths
	} else if len(paths) > 0 {
		zero := int64(0)
		h.cowPtr = &zero
		h.hadPrior = true
		h.inputPaths = paths
	} else {
		h.mu.Lock()
		h.dirty = true
		h.mu.Unlock()
	}

	if writable && buffered {
		h.buffer = newWriteBuffer()
	}
	if writable && checksums {
		h.checksum = newChecksumMixin(threaded)
	}

	return h, nil
}

// SetPriorSize records the size of the existing object at Path, as known
// to the caller (e.g. from a directory-cache entry), used by Size() for
// read-only and not-yet-written handles.
func (h *Handle) SetPriorSize(size int64) {
	h.priorSize = size
}

// State reports the handle's current position in the state machine.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.Writable {
		return StateReadOnly
	}
	if h.cowPtr != nil {
		return StateWriteCOW
	}
	if h.dirty {
		return StateWriteNew
	}
	return StateWriteClean
}

// Size returns the handle's current logical size: the destination's size
// if writable-dirty, otherwise the prior object's known size.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	dirty := h.dirty
	h.mu.Unlock()

	if h.Writable && dirty {
		h.destMu.Lock()
		dest := h.dest
		h.destMu.Unlock()
		if dest != nil {
			return dest.sizeSnapshot()
		}
		return 0
	}
	return h.priorSize
}

// destination lazily allocates and materializes the remote write
// destination, under a per-handle lock so concurrent callers see a single
// initialization.
func (h *Handle) destination(ctx context.Context) (*destination, error) {
	h.destMu.Lock()
	defer h.destMu.Unlock()

	if h.dest != nil {
		return h.dest, nil
	}

	d, err := h.deps.Tracker.CreateOpen(ctx, h.Path)
	if err != nil {
		return nil, err
	}

	dest := &destination{fid: d.FID, devid: d.DevID, url: d.URL}

	if _, err := h.deps.Transport.Request(ctx, http.MethodPut, dest.url, nil, []byte{}); err != nil {
		dest.setError()
		h.dest = dest
		return nil, errors.IO("handle", "materialize destination", err)
	}

	h.dest = dest
	return dest, nil
}

// rawRead targets the single destination URL when fromOutput, otherwise
// each input path in order; a range-not-satisfiable response is treated
// as end-of-object, not failure.
func (h *Handle) rawRead(ctx context.Context, offset, length int64, fromOutput bool) ([]byte, error) {
	var targets []string
	if fromOutput {
		dest, err := h.destination(ctx)
		if err != nil {
			return nil, err
		}
		targets = []string{dest.url}
	} else {
		targets = h.inputPaths
	}

	if len(targets) == 0 {
		return []byte{}, nil
	}

	headers := http.Header{"Range": []string{transport.RangeHeader(offset, length)}}

	var lastErr error
	for _, url := range targets {
		resp, err := h.deps.Transport.Request(ctx, http.MethodGet, url, headers, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.RangeNotSatisfiable {
			return []byte{}, nil
		}
		if resp.Status >= 200 && resp.Status < 300 {
			return resp.Body, nil
		}
		lastErr = fmt.Errorf("storage node returned status %d", resp.Status)
	}

	return nil, errors.IO("handle", "read", lastErr)
}

// rawWrite requires a destination (allocating if needed); an empty buffer
// is a no-op. On success dest.size is bumped; on failure dest.err is set
// stickily.
func (h *Handle) rawWrite(ctx context.Context, offset int64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	dest, err := h.destination(ctx)
	if err != nil {
		return 0, err
	}

	headers := http.Header{"Content-Range": []string{transport.ContentRangeHeader(offset, len(buf))}}
	if _, err := h.deps.Transport.Request(ctx, http.MethodPut, dest.url, headers, buf); err != nil {
		dest.setError()
		return 0, errors.IO("handle", "write", err)
	}

	dest.bumpSize(offset + int64(len(buf)))
	return len(buf), nil
}

// cowStep copies one chunk of up to chunkSize bytes from the old object to
// the destination, advancing cowPtr. A zero-byte read means the old
// object is exhausted; cowPtr is cleared and more is false.
func (h *Handle) cowStep(ctx context.Context, chunkSize int64) (more bool, err error) {
	h.mu.Lock()
	ptr := h.cowPtr
	h.mu.Unlock()
	if ptr == nil {
		return false, nil
	}

	data, err := h.rawRead(ctx, *ptr, chunkSize, false)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(data) == 0 {
		h.cowPtr = nil
		return false, nil
	}

	if _, err := h.rawWrite(ctx, *h.cowPtr, data); err != nil {
		return false, err
	}
	*h.cowPtr += int64(len(data))
	return true, nil
}

// advanceCOW copies from the old object to the destination until cowPtr
// reaches target or the old object is exhausted, in chunks of at most
// 1 MiB (or limit, if smaller and positive).
func (h *Handle) advanceCOW(ctx context.Context, target, limit int64) error {
	chunk := int64(cowChunkSize)
	if limit > 0 && limit < chunk {
		chunk = limit
	}

	for {
		h.mu.Lock()
		ptr := h.cowPtr
		h.mu.Unlock()
		if ptr == nil || *ptr >= target {
			return nil
		}

		step := chunk
		if remaining := target - *ptr; remaining < step {
			step = remaining
		}
		more, err := h.cowStep(ctx, step)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// drainCOW copies the remainder of the old object to the destination,
// regardless of target, in 1 MiB chunks, stopping once the old object is
// exhausted.
func (h *Handle) drainCOW(ctx context.Context) error {
	for {
		h.mu.Lock()
		ptr := h.cowPtr
		h.mu.Unlock()
		if ptr == nil {
			return nil
		}
		if _, err := h.cowStep(ctx, cowChunkSize); err != nil {
			return err
		}
	}
}

// Write performs a user write: marks the handle dirty, ensures bytes
// behind the write are preserved from the old object via copy-on-write,
// then persists through the buffered mixin (if enabled) or directly.
func (h *Handle) Write(ctx context.Context, buf []byte, offset int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()

	if err := h.advanceCOW(ctx, offset+int64(len(buf)), 0); err != nil {
		return 0, err
	}

	var n int
	var err error
	if h.buffer != nil {
		n, err = h.buffer.Write(ctx, offset, buf, h.rawWrite)
	} else {
		n, err = h.rawWrite(ctx, offset, buf)
	}
	if err != nil {
		return n, err
	}

	if h.checksum != nil {
		h.checksum.OnWrite(offset, buf)
	}
	return n, nil
}

// Read performs a user read. A writable-dirty handle must see its own
// in-flight writes, so it first advances copy-on-write up to the read's
// end and reads the destination; otherwise it reads the input paths.
func (h *Handle) Read(ctx context.Context, length, offset int64) ([]byte, error) {
	h.mu.Lock()
	dirty := h.dirty
	h.mu.Unlock()

	if h.Writable && dirty {
		if h.buffer != nil {
			if err := h.buffer.Drain(ctx, h.rawWrite); err != nil {
				return nil, err
			}
		}
		if err := h.advanceCOW(ctx, offset+length, 0); err != nil {
			return nil, err
		}
		return h.rawRead(ctx, offset, length, true)
	}
	return h.rawRead(ctx, offset, length, false)
}

// Truncate fails if the handle has ever had a prior object and cow_ptr is
// undefined (copy-on-write already ran past the old object's end) or
// already exceeds size (cannot shrink what was already promoted): a
// destination can only grow by copying real bytes forward from the old
// object, never by fabricating them, so a target beyond what copy-on-write
// can supply is rejected rather than silently truncated short. A handle
// that never had a prior object carries no such constraint; growing it
// zero-fills, since there is nothing to reject against. Otherwise it
// propagates copy-on-write up to size and reconciles the destination's
// committed length against size: shrinking is bookkeeping alone (no
// re-upload: nothing ever reads past the reported size), growing beyond
// what copy-on-write produced pads with zeros.
func (h *Handle) Truncate(ctx context.Context, size int64) error {
	h.mu.Lock()
	h.dirty = true
	hadPrior := h.hadPrior
	ptr := h.cowPtr
	h.mu.Unlock()

	if hadPrior && ptr != nil && *ptr > size {
		return errors.IO("handle", "truncate", fmt.Errorf("cow_ptr %d exceeds truncate size %d", *ptr, size))
	}

	if err := h.advanceCOW(ctx, size, size); err != nil {
		return err
	}

	h.mu.Lock()
	ptr = h.cowPtr
	h.mu.Unlock()
	if hadPrior && ptr == nil {
		return errors.IO("handle", "truncate", fmt.Errorf("cow_ptr is undefined: old object exhausted before reaching size %d", size))
	}

	dest, err := h.destination(ctx)
	if err != nil {
		return err
	}

	switch cur := dest.sizeSnapshot(); {
	case cur > size:
		dest.setSize(size)
	case cur < size:
		if _, err := h.rawWrite(ctx, cur, make([]byte, size-cur)); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.cowPtr = nil
	h.mu.Unlock()
	return nil
}

// Flush drains the write buffer, finalizes the checksum, propagates any
// remaining copy-on-write, and commits via create_close. On success the
// handle is reinitialized so it can be reused: a fresh commit cycle begins
// copy-on-write at offset 0 against the object just committed.
func (h *Handle) Flush(ctx context.Context) error {
	h.mu.Lock()
	dirty := h.dirty
	h.mu.Unlock()
	if !h.Writable || !dirty {
		return nil
	}

	if h.buffer != nil {
		if err := h.buffer.Drain(ctx, h.rawWrite); err != nil {
			return err
		}
	}

	var checksum string
	if h.checksum != nil && h.checksum.Enabled() {
		checksum = h.checksum.Finalize()
	}

	if err := h.drainCOW(ctx); err != nil {
		return err
	}

	dest, err := h.destination(ctx)
	if err != nil {
		return err
	}

	key := h.Path
	if dest.hasError() {
		key = ""
	}

	err = h.deps.Tracker.CreateClose(ctx, tracker.CloseArgs{
		FID:            dest.fid,
		DevID:          dest.devid,
		Domain:         h.deps.Domain,
		Key:            key,
		Path:           dest.url,
		Size:           dest.sizeSnapshot(),
		Mtime:          time.Now(),
		Checksum:       checksum,
		ChecksumVerify: checksum != "",
	})
	if err != nil {
		return errors.IO("handle", "create_close", err)
	}
	if dest.hasError() {
		return errors.IO("handle", "commit", fmt.Errorf("destination had a sticky write error; temporary object discarded"))
	}

	h.mu.Lock()
	h.dirty = false
	zero := int64(0)
	h.cowPtr = &zero
	h.hadPrior = true
	h.mu.Unlock()

	h.destMu.Lock()
	h.dest = nil
	h.destMu.Unlock()

	h.inputPaths = []string{dest.url}
	h.priorSize = dest.sizeSnapshot()

	if h.buffer != nil {
		h.buffer.Reset()
	}
	if h.checksum != nil {
		h.checksum.Reset()
	}

	return nil
}

// Fsync drains the write buffer without committing.
func (h *Handle) Fsync(ctx context.Context) error {
	if h.buffer != nil {
		return h.buffer.Drain(ctx, h.rawWrite)
	}
	return nil
}

// Release forces a flush then discards handle state. The caller (the
// mount's registry) is responsible for removing the handle from the
// live-handle map.
func (h *Handle) Release(ctx context.Context) error {
	return h.Flush(ctx)
}
