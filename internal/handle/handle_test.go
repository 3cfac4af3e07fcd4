package handle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/objectfs/objectfs-fuse/internal/tracker"
	"github.com/objectfs/objectfs-fuse/internal/transport"
)

// fakeStorage is an in-memory storage node: GET honors Range (416 past
// EOF), PUT honors Content-Range (growing the backing buffer as needed),
// and a body-less PUT materializes an empty object.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			data := s.objects[r.URL.Path]
			rng := r.Header.Get("Range")
			if rng == "" {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(data)
				return
			}
			var start, end int64
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if start >= int64(len(data)) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			if end >= int64(len(data)) {
				end = int64(len(data)) - 1
			}
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start : end+1])

		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			cr := r.Header.Get("Content-Range")
			if cr == "" {
				// A full PUT (no Content-Range) replaces the object whole:
				// used to materialize an empty object on create_open.
				s.objects[r.URL.Path] = body
				w.WriteHeader(http.StatusOK)
				return
			}
			var start, end int64
			if _, err := fmt.Sscanf(cr, "bytes %d-%d/*", &start, &end); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			existing := s.objects[r.URL.Path]
			needed := start + int64(len(body))
			if int64(len(existing)) < needed {
				grown := make([]byte, needed)
				copy(grown, existing)
				existing = grown
			}
			copy(existing[start:], body)
			s.objects[r.URL.Path] = existing
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// fakeTracker answers get_paths/create_open/create_close against a
// fakeStorage, keeping an in-memory key->url map as the committed namespace.
type fakeTracker struct {
	mu         sync.Mutex
	storageURL string
	keys       map[string]string
	nextFID    uint64
}

func newFakeTracker(storageURL string) *fakeTracker {
	return &fakeTracker{storageURL: storageURL, keys: make(map[string]string)}
}

func (ft *fakeTracker) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		ft.mu.Lock()
		defer ft.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/get_paths"):
			key := r.Form.Get("key")
			u, ok := ft.keys[key]
			if !ok {
				_, _ = w.Write([]byte(url.Values{"paths": {"0"}}.Encode()))
				return
			}
			_, _ = w.Write([]byte(url.Values{"paths": {"1"}, "path1": {u}}.Encode()))

		case strings.HasSuffix(r.URL.Path, "/create_open"):
			ft.nextFID++
			objURL := ft.storageURL + "/obj" + strconv.FormatUint(ft.nextFID, 10)
			_, _ = w.Write([]byte(url.Values{
				"fid":   {strconv.FormatUint(ft.nextFID, 10)},
				"devid": {"1"},
				"path":  {objURL},
			}.Encode()))

		case strings.HasSuffix(r.URL.Path, "/create_close"):
			key := r.Form.Get("key")
			p := r.Form.Get("path")
			if key != "" {
				ft.keys[key] = p
			}
			_, _ = w.Write([]byte(url.Values{}.Encode()))

		default:
			_, _ = w.Write([]byte(url.Values{}.Encode()))
		}
	}
}

// testEnv wires a fake storage node and fake tracker behind httptest
// servers, sharing one pooled transport.Client, matching the real wiring
// between internal/tracker and internal/transport.
type testEnv struct {
	deps Deps
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	t.Helper()

	storage := newFakeStorage()
	storageSrv := httptest.NewServer(storage.handler())

	ft := newFakeTracker(storageSrv.URL)
	trackerSrv := httptest.NewServer(ft.handler())

	pool, err := transport.NewPool(8, 60*time.Second, 8, "")
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	httpClient := transport.NewClient(pool, 5*time.Second, nil, nil)

	addr := strings.TrimPrefix(trackerSrv.URL, "http://")
	trackerClient := tracker.New([]string{addr}, "testdomain", "", httpClient)

	env := &testEnv{
		deps: Deps{Tracker: trackerClient, Transport: httpClient, Domain: "testdomain"},
	}
	cleanup := func() {
		storageSrv.Close()
		trackerSrv.Close()
		_ = pool.Close()
	}
	return env, cleanup
}

func TestWriteReadRoundTrip(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/newfile", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("hello world"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/newfile", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 11, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("got %q, want %q", data, "hello world")
	}
}

func TestReadMissingKeyIsNotFound(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	_, err := New(ctx, env.deps, "/nope", false, false, false, false)
	if err == nil {
		t.Fatal("expected error opening nonexistent key read-only")
	}
}

func TestTruncateShrinksBeforeFlush(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/trunc", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Truncate(ctx, 5); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/trunc", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	// A shrink is committed size only, not a physical re-upload, so a
	// caller reads exactly the committed size, as stat would report it.
	data, err := r.Read(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 5 || string(data) != "01234" {
		t.Errorf("got %q (len %d), want \"01234\" (len 5)", data, len(data))
	}
}

func TestTruncateGrowPadsWithZeros(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/grow", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("hi"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Truncate(ctx, 5); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/grow", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 5, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 5 || data[0] != 'h' || data[1] != 'i' || data[2] != 0 || data[3] != 0 || data[4] != 0 {
		t.Errorf("got %v, want \"hi\" followed by 3 zero bytes", data)
	}
}

func TestTruncateShrinkThenGrowDoesNotResurrectDroppedBytes(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/shrinkgrow", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Truncate(ctx, 5); err != nil {
		t.Fatalf("shrink Truncate() error = %v", err)
	}
	if err := w.Truncate(ctx, 8); err != nil {
		t.Fatalf("grow Truncate() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/shrinkgrow", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 8, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data[:5]) != "01234" {
		t.Errorf("expected surviving prefix \"01234\", got %q", data[:5])
	}
	for i := 5; i < 8; i++ {
		if data[i] != 0 {
			t.Errorf("expected zero-padded byte at %d, got %d", i, data[i])
		}
	}
}

// TestTruncateGrowPastCommittedPriorObjectFails reproduces the rejection
// case: once a handle has committed against a real prior object, growing
// past what copy-on-write can supply from that object must fail rather
// than fabricate bytes.
func TestTruncateGrowPastCommittedPriorObjectFails(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/a", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("abcdef"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Truncate(ctx, 3); err != nil {
		t.Fatalf("Truncate(3) error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/a", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 3, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("got %q, want committed size 3, bytes \"abc\"", data)
	}

	// The same handle reuses its commit cycle and re-COWs from the object
	// it just committed (3 bytes); growing past that must fail.
	if err := w.Truncate(ctx, 10); err == nil {
		t.Fatal("expected truncate(10) past the committed prior object to fail")
	}
}

// TestTruncateShrinkBeyondCowPtrFails covers the other guard: shrinking to
// a size already passed by cow_ptr is rejected, since bytes below cow_ptr
// have already been promoted to the destination.
func TestTruncateShrinkBeyondCowPtrFails(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seed, err := New(ctx, env.deps, "/b", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := seed.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := seed.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	w, err := New(ctx, env.deps, "/b", true, false, false, false)
	if err != nil {
		t.Fatalf("New() (cow) error = %v", err)
	}
	// Promote bytes [0, 8) to the destination via a write, advancing cow_ptr.
	if _, err := w.Write(ctx, []byte("X"), 7); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Truncate(ctx, 5); err == nil {
		t.Fatal("expected truncate(5) below an already-promoted cow_ptr to fail")
	}
}

func TestCopyOnWritePreservesUntouchedBytes(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	seed, err := New(ctx, env.deps, "/cow", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := seed.Write(ctx, []byte("AAAAABBBBBCCCCC"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := seed.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	w, err := New(ctx, env.deps, "/cow", true, false, false, false)
	if err != nil {
		t.Fatalf("New() (cow) error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("XXXXX"), 5); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/cow", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 15, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := "AAAAAXXXXXCCCCC"
	if string(data) != want {
		t.Errorf("got %q, want %q", data, want)
	}
}

func TestReadPastEOFIsEmpty(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/short", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("hi"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/short", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 10, 100)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty read past EOF, got %q", data)
	}
}

func TestWriteBufferCoalescesAdjacentWrites(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/buffered", true, true, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := w.Write(ctx, []byte("AB"), int64(i*2)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/buffered", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "ABABABABAB" {
		t.Errorf("got %q, want %q", data, "ABABABABAB")
	}
}

func TestWriteBufferFlushesOnNonAdjacentWrite(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/sparse", true, true, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("AA"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Non-adjacent: forces the buffer to flush "AA" before buffering "BB".
	if _, err := w.Write(ctx, []byte("BB"), 10); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/sparse", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 12, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if data[0] != 'A' || data[1] != 'A' || data[10] != 'B' || data[11] != 'B' {
		t.Errorf("unexpected buffered layout: %q", data)
	}
}

func TestChecksumSequentialWritesAreEnabled(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/cksum", true, false, true, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("hello "), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("world"), 6); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !w.checksum.Enabled() {
		t.Error("expected checksum to remain enabled after sequential writes")
	}
	if got := w.checksum.Finalize(); got == "" || !strings.HasPrefix(got, "MD5:") {
		t.Errorf("expected a finalized MD5 checksum, got %q", got)
	}
}

func TestChecksumDisabledOnNonSequentialWrite(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/cksum2", true, false, true, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("hello"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// Non-sequential: skips ahead, so the running digest can no longer
	// reflect the full object and must be abandoned for this commit.
	if _, err := w.Write(ctx, []byte("world"), 20); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if w.checksum.Enabled() {
		t.Error("expected checksum to be disabled after a non-sequential write")
	}
	if got := w.checksum.Finalize(); got != "" {
		t.Errorf("expected no checksum once disabled, got %q", got)
	}
}

func TestChecksumDisabledUnderThreading(t *testing.T) {
	w := newChecksumMixin(true)
	if w.Enabled() {
		t.Error("expected checksum mixin constructed with threaded=true to start disabled")
	}
}

func TestFlushReinitializesHandleForReuse(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/reuse", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("first"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("first Flush() error = %v", err)
	}

	// The same handle is written to again, exercising the reinitialized
	// copy-on-write cursor (0, not nil) against the object just committed.
	if _, err := w.Write(ctx, []byte("SECOND"), 5); err != nil {
		t.Fatalf("second Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("second Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/reuse", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	data, err := r.Read(ctx, 11, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "firstSECOND" {
		t.Errorf("got %q, want %q", data, "firstSECOND")
	}
}

func TestFsyncDrainsBufferWithoutCommitting(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/fsync", true, true, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("buffered"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Fsync(ctx); err != nil {
		t.Fatalf("Fsync() error = %v", err)
	}

	// Not yet committed: a read-only open of the same key must still fail.
	if _, err := New(ctx, env.deps, "/fsync", false, false, false, false); err == nil {
		t.Error("expected read-only open to fail before create_close commits the key")
	}
}

func TestSizeReflectsPriorSizeForReadHandle(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/sized", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	r, err := New(ctx, env.deps, "/sized", false, false, false, false)
	if err != nil {
		t.Fatalf("New() (read) error = %v", err)
	}
	r.SetPriorSize(10)
	if got := r.Size(); got != 10 {
		t.Errorf("Size() = %d, want 10", got)
	}
}

func TestWriteHandleSizeReflectsDestination(t *testing.T) {
	env, cleanup := newTestEnv(t)
	defer cleanup()
	ctx := context.Background()

	w, err := New(ctx, env.deps, "/wsize", true, false, false, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := w.Write(ctx, []byte("0123456789"), 0); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := w.Size(); got != 10 {
		t.Errorf("Size() = %d, want 10", got)
	}
}
