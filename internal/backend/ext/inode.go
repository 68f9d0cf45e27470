package ext

import (
	"encoding/binary"
	"fmt"
)

// inode holds the fields of an on-disk ext2_inode needed to locate its
// data: mode, size, flags and the 60-byte union (direct/indirect block
// pointers, or an extent header+entries when EXT4_EXTENTS_FL is set).
type inode struct {
	mode     uint16
	size     uint64
	flags    uint32
	block    [15]uint32
	rawUnion [60]byte
}

func (i *inode) isDir() bool  { return i.mode&0xF000 == 0x4000 }
func (i *inode) isReg() bool  { return i.mode&0xF000 == 0x8000 }
func (i *inode) hasExtents() bool { return i.flags&extentsFlag != 0 }
func (i *inode) isIndexed() bool  { return i.flags&indexFlag != 0 }

func parseInode(raw []byte) (*inode, error) {
	if len(raw) < 108 {
		return nil, fmt.Errorf("ext: inode buffer too short")
	}
	le := binary.LittleEndian
	in := &inode{
		mode:  le.Uint16(raw[0:2]),
		size:  uint64(le.Uint32(raw[4:8])),
		flags: le.Uint32(raw[32:36]),
	}
	copy(in.rawUnion[:], raw[40:100])
	for k := 0; k < 15; k++ {
		in.block[k] = le.Uint32(raw[40+4*k : 44+4*k])
	}
	if len(raw) >= 112 {
		sizeHigh := le.Uint32(raw[108:112])
		in.size |= uint64(sizeHigh) << 32
	}
	return in, nil
}

// blockWalker reads an inode's allocated data-block numbers in order,
// via direct pointers, single/double/triple indirection, or a flat
// (non-recursive-tree) read of extent leaves when hasExtents is set.
// This intentionally does not walk multi-level extent index nodes; the
// vast majority of ext4 files keep their extent tree in the inode's
// inline 4-entry root, and this backend only needs block numbers for
// overwrite targeting, not perfect coverage of pathological layouts.
type blockWalker struct {
	fs  *fsys
	ino *inode
}

func newBlockWalker(fs *fsys, ino *inode) *blockWalker {
	return &blockWalker{fs: fs, ino: ino}
}

// Each calls fn once per allocated block number, stopping early if fn
// returns false.
func (w *blockWalker) Each(fn func(blk uint64) bool) error {
	if w.ino.hasExtents() {
		return w.eachExtent(fn)
	}
	return w.eachClassic(fn)
}

func (w *blockWalker) eachClassic(fn func(blk uint64) bool) error {
	bs := w.fs.sb.blockSize()
	ptrsPerBlock := bs / 4

	for i := 0; i < 12; i++ {
		if w.ino.block[i] == 0 {
			continue
		}
		if !fn(uint64(w.ino.block[i])) {
			return nil
		}
	}

	indirectLevels := []struct {
		ptr   uint32
		depth int
	}{
		{w.ino.block[12], 1},
		{w.ino.block[13], 2},
		{w.ino.block[14], 3},
	}
	for _, lvl := range indirectLevels {
		if lvl.ptr == 0 {
			continue
		}
		cont, err := w.walkIndirect(uint64(lvl.ptr), lvl.depth, ptrsPerBlock, fn)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (w *blockWalker) walkIndirect(blk uint64, depth int, ptrsPerBlock int64, fn func(blk uint64) bool) (bool, error) {
	bs := w.fs.sb.blockSize()
	buf := make([]byte, bs)
	if _, err := w.fs.dev.ReadAt(buf, int64(blk)*bs); err != nil {
		return false, err
	}
	for i := int64(0); i < ptrsPerBlock; i++ {
		ptr := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		if ptr == 0 {
			continue
		}
		if depth == 1 {
			if !fn(uint64(ptr)) {
				return false, nil
			}
			continue
		}
		cont, err := w.walkIndirect(uint64(ptr), depth-1, ptrsPerBlock, fn)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

// eachExtent reads the inline extent header (ext4_extent_header) in the
// inode's block[] union and, for a depth-0 (leaf) tree, emits every
// block covered by each ext4_extent. A non-zero header depth means the
// root holds index nodes rather than leaves; those are skipped, which
// under-reports blocks for very large/fragmented files but never reads
// past what the inode itself stores.
func (w *blockWalker) eachExtent(fn func(blk uint64) bool) error {
	u := w.ino.rawUnion[:]
	magic := binary.LittleEndian.Uint16(u[0:2])
	const extentMagic = 0xF30A
	if magic != extentMagic {
		return nil
	}
	entries := binary.LittleEndian.Uint16(u[2:4])
	depth := binary.LittleEndian.Uint16(u[6:8])
	if depth != 0 {
		return nil
	}
	for e := 0; e < int(entries) && e < 4; e++ {
		off := 12 + e*12
		if off+12 > len(u) {
			break
		}
		lenField := binary.LittleEndian.Uint16(u[off+4 : off+6])
		startHi := binary.LittleEndian.Uint16(u[off+6 : off+8])
		startLo := binary.LittleEndian.Uint32(u[off+8 : off+12])
		start := uint64(startHi)<<32 | uint64(startLo)
		n := uint64(lenField)
		if n > 32768 {
			n -= 32768 // initialized-but-unwritten marker high bit
		}
		for b := uint64(0); b < n; b++ {
			if !fn(start + b) {
				return nil
			}
		}
	}
	return nil
}

// lastDataBlock returns the highest block number the walker yields, or
// (0, false) for an inode with no allocated blocks.
func (w *blockWalker) lastDataBlock() (uint64, bool, error) {
	var last uint64
	found := false
	err := w.Each(func(blk uint64) bool {
		last = blk
		found = true
		return true
	})
	return last, found, err
}
