package handle

import (
	"crypto/md5" //nolint:gosec // wire-compatible digest kind, not a security boundary
	"encoding/hex"
	"hash"
)

// checksumMixin computes a streaming digest over a handle's user writes,
// disabled permanently under threading and disabled for the remainder of a
// commit cycle the moment a write arrives out of sequence.
type checksumMixin struct {
	kind     string
	threaded bool
	h        hash.Hash
	pos      int64
	enabled  bool
}

func newChecksumMixin(threaded bool) *checksumMixin {
	m := &checksumMixin{kind: "MD5", threaded: threaded}
	m.resetState()
	return m
}

func (c *checksumMixin) resetState() {
	c.h = md5.New() //nolint:gosec
	c.pos = 0
	c.enabled = !c.threaded
}

// OnWrite folds buf into the digest if offset continues the sequential run
// from 0; otherwise it disables the checksum for the rest of this commit
// cycle.
func (c *checksumMixin) OnWrite(offset int64, buf []byte) {
	if !c.enabled {
		return
	}
	if offset != c.pos {
		c.enabled = false
		return
	}
	c.h.Write(buf)
	c.pos += int64(len(buf))
}

// Enabled reports whether the checksum is still eligible to be committed.
func (c *checksumMixin) Enabled() bool {
	return c.enabled
}

// Finalize returns the "<KIND>:<hex>" commit value, or "" if disabled.
func (c *checksumMixin) Finalize() string {
	if !c.enabled {
		return ""
	}
	return c.kind + ":" + hex.EncodeToString(c.h.Sum(nil))
}

// Reset restores the mixin to its initial state for the next commit cycle
// (one-shot per commit, per the checksum invariant).
func (c *checksumMixin) Reset() {
	c.resetState()
}
