// Package blockio implements the Block Buffer I/O contract (component
// C2): reading and writing single blocks through a blockdev.Device, the
// bad-block swallow rule, and the flush policy shared by every backend.
package blockio

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

// BadBlocks is a read-only set of block numbers whose write errors are
// swallowed, so writes to a listed block never abort the outer walk. No
// backend loads its native bad-block list into it; IO.Bad is empty unless
// a caller fills it.
type BadBlocks map[int64]struct{}

func (b BadBlocks) Has(blk int64) bool {
	if b == nil {
		return false
	}
	_, ok := b[blk]
	return ok
}

// Mode selects when a backend flushes between passes.
type Mode int

const (
	PatternMajor Mode = iota
	BlockMajor
)

// IO binds a Device, block size, and policy flags shared by one backend
// operation.
type IO struct {
	Dev            blockdev.Device
	BlockSize      int64
	SkipZeroBlocks bool
	Mode           Mode
	Passes         uint64
	LastZero       bool // append one all-zero pass after Passes (--last-zero)
	Bad            BadBlocks
	Zero           *ZeroCache // optional; nil disables the cache

	fp     uint64
	fpOnce sync.Once
}

// fingerprint hashes Dev's path and size into the stable per-device key
// the ZeroCache is keyed on (SPEC_FULL §4.2: "keyed by (device
// fingerprint, block number)"), mirroring internal/journal's device
// fingerprint. Computed once and memoized since Size() may stat the
// underlying file.
func (io *IO) fingerprint() uint64 {
	io.fpOnce.Do(func() {
		h := xxhash.New()
		h.WriteString(io.Dev.Path())
		if sz, err := io.Dev.Size(); err == nil {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(sz))
			h.Write(buf[:])
		}
		io.fp = h.Sum64()
	})
	return io.fp
}

// ReadBlock reads one block at absolute block number blk into buf, which
// must be exactly BlockSize long.
func (io *IO) ReadBlock(blk int64, buf []byte) error {
	_, err := io.Dev.ReadAt(buf, blk*io.BlockSize)
	if err != nil {
		return werr.Wrap(werr.BlkRd, io.Dev.Path(), err)
	}
	return nil
}

// WriteBlock writes buf (exactly BlockSize long) to absolute block number
// blk. Errors on bad-listed blocks are swallowed per the contract.
func (io *IO) WriteBlock(blk int64, buf []byte) error {
	_, err := io.Dev.WriteAt(buf, blk*io.BlockSize)
	if err != nil {
		if io.Bad.Has(blk) {
			return nil
		}
		return werr.Wrap(werr.BlkWr, io.Dev.Path(), err)
	}
	return nil
}

// Flush forces pending writes to the medium. Failures here are logged by
// the caller and treated as non-fatal per the error taxonomy.
func (io *IO) Flush() error {
	if err := io.Dev.Flush(); err != nil {
		return werr.Wrap(werr.FlushFs, io.Dev.Path(), err)
	}
	return nil
}

// ShouldFlushAfterPass reports whether the backend must flush after pass
// index p (0-based) out of the session's total pass count.
func (io *IO) ShouldFlushAfterPass(p uint64) bool {
	if io.Passes <= 1 {
		return false // single-pass sessions rely on OS buffering
	}
	if io.Mode == PatternMajor {
		return p > 0
	}
	return true
}

// RunPasses writes scratch (exactly BlockSize long) to blk once per
// configured pass, calling fill to fill region (a sub-slice of scratch,
// or scratch itself for a whole-block wipe) before each write, and
// flushing between passes per ShouldFlushAfterPass. When LastZero is
// set it appends one final all-zero write after the N passes, per §3's
// "plus B additional zero-pass writes iff --last-zero".
func (io *IO) RunPasses(blk int64, scratch, region []byte, fill func(pass uint64, dest []byte)) error {
	for p := uint64(0); p < io.Passes; p++ {
		fill(p, region)
		if err := io.WriteBlock(blk, scratch); err != nil {
			return err
		}
		if io.ShouldFlushAfterPass(p) {
			if err := io.Flush(); err != nil {
				return err
			}
		}
	}
	if io.LastZero {
		for i := range region {
			region[i] = 0
		}
		if err := io.WriteBlock(blk, scratch); err != nil {
			return err
		}
	}
	return nil
}

// AllZero reports whether buf is entirely zero bytes; used by the
// skip-all-zero-blocks policy and to populate the ZeroCache.
func AllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// IsZero checks whether blk is known, or newly observed, to be all-zero;
// it is the single entry point backends use for the "read first, skip if
// zero" policy, consulting and then populating the ZeroCache when present.
func (io *IO) IsZero(blk int64, scratch []byte) (bool, error) {
	if !io.SkipZeroBlocks {
		return false, nil
	}
	if io.Zero != nil {
		if z, ok := io.Zero.Get(io.fingerprint(), blk); ok {
			return z, nil
		}
	}
	if err := io.ReadBlock(blk, scratch); err != nil {
		return false, err
	}
	z := AllZero(scratch)
	if io.Zero != nil {
		io.Zero.Add(io.fingerprint(), blk, z)
	}
	return z, nil
}
