package handle

import (
	"context"
	"sync"
)

// maxBufferedBytes is the write-buffer's flush threshold (64 KiB): a write
// that finds more than this many bytes already buffered flushes them first.
const maxBufferedBytes = 64 * 1024

// rawWriteFunc is the raw write primitive a writeBuffer flushes into.
type rawWriteFunc func(ctx context.Context, offset int64, buf []byte) (int, error)

// writeBuffer coalesces adjacent small writes into one larger raw write.
// All operations are performed under the buffer's own lock.
type writeBuffer struct {
	mu           sync.Mutex
	start, end   int64
	bytes        []byte
	bypassBuffer bool
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{}
}

// SetBypass forces every subsequent Write straight to the raw write
// primitive, skipping coalescing entirely.
func (b *writeBuffer) SetBypass(bypass bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bypassBuffer = bypass
}

// Write appends buf at offset, flushing first if the write is non-adjacent
// to the buffered run or the buffered run already exceeds maxBufferedBytes.
func (b *writeBuffer) Write(ctx context.Context, offset int64, buf []byte, rawWrite rawWriteFunc) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bypassBuffer {
		return rawWrite(ctx, offset, buf)
	}

	if b.bytes != nil {
		if offset != b.end || (b.end-b.start) > maxBufferedBytes {
			if err := b.flushLocked(ctx, rawWrite); err != nil {
				return 0, err
			}
		}
	}

	if b.bytes == nil {
		b.start = offset
		b.end = offset
	}

	b.bytes = append(b.bytes, buf...)
	b.end = offset + int64(len(buf))
	return len(buf), nil
}

// Drain flushes any buffered bytes via rawWrite. A read on a dirty output
// file, and fsync, both call Drain first.
func (b *writeBuffer) Drain(ctx context.Context, rawWrite rawWriteFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx, rawWrite)
}

func (b *writeBuffer) flushLocked(ctx context.Context, rawWrite rawWriteFunc) error {
	if len(b.bytes) == 0 {
		b.bytes = nil
		return nil
	}

	if _, err := rawWrite(ctx, b.start, b.bytes); err != nil {
		return err
	}

	b.bytes = nil
	b.start = 0
	b.end = 0
	return nil
}

// Reset discards any buffered bytes without flushing, used when a handle
// is reinitialized after a successful commit.
func (b *writeBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bytes = nil
	b.start = 0
	b.end = 0
}
