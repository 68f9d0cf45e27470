package fat

import (
	"encoding/binary"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

// WipeFs overwrites every cluster the FAT marks free.
func (b *Backend) WipeFs(h *backend.Handle) error {
	fs := b.open[h]
	cs := fs.clusterSize()
	scratch := make([]byte, cs)
	total := fs.clusterCount()

	for n := uint32(2); n < total+2; n++ {
		if h.Sig.Cancelled() {
			return werr.New(werr.Signal)
		}
		if !fs.isFree(n) {
			continue
		}
		off := fs.clusterOffset(n)
		blk := off / fs.io.BlockSize

		zero, err := fs.io.IsZero(blk, scratch)
		if err != nil {
			return err
		}
		if zero {
			continue
		}

		if err := fs.io.RunPasses(blk, scratch, scratch, h.Selector.Fill); err != nil {
			return err
		}
		if n%256 == 0 {
			b.showProgress(h, progress.Wfs, int64(n), int64(total))
		}
	}
	return fs.io.Flush()
}

// WipePart walks every live file's cluster chain and overwrites the
// unused tail of its last cluster, past the byte recorded in the
// directory entry's file-size field.
func (b *Backend) WipePart(h *backend.Handle) error {
	fs := b.open[h]
	return fs.walkDirs(func(dir []byte, dirOff int64) error {
		for off := 0; off+dirEntrySize <= len(dir); off += dirEntrySize {
			e := dir[off : off+dirEntrySize]
			if e[0] == 0 || e[0] == deletedMarker {
				continue
			}
			attr := e[11]
			if attr&0x08 != 0 || attr&0x10 != 0 {
				continue // volume label or directory
			}
			size := binary.LittleEndian.Uint32(e[28:32])
			if size == 0 {
				continue
			}
			cluster := clusterOf(e)
			last, ok := fs.lastCluster(cluster)
			if !ok {
				continue
			}
			tail := int64(size) % fs.clusterSize()
			if tail == 0 {
				continue
			}
			if h.Sig.Cancelled() {
				return werr.New(werr.Signal)
			}
			blk := fs.clusterOffset(last) / fs.io.BlockSize
			buf := make([]byte, fs.io.BlockSize)
			if err := fs.io.ReadBlock(blk, buf); err != nil {
				return err
			}
			if err := fs.io.RunPasses(blk, buf, buf[tail:], h.Selector.Fill); err != nil {
				return err
			}
		}
		return nil
	})
}

// WipeUnrm overwrites the name bytes of deleted (0xE5) directory
// entries' remaining fields so nothing but the marker byte survives.
// The cluster chain a deleted entry used to reference is ordinary free
// space by the time this runs (the FAT no longer claims it), so it is
// covered by WipeFs rather than duplicated here.
func (b *Backend) WipeUnrm(h *backend.Handle) error {
	fs := b.open[h]

	err := fs.walkDirsWrite(func(dir []byte) bool {
		changed := false
		for off := 0; off+dirEntrySize <= len(dir); off += dirEntrySize {
			e := dir[off : off+dirEntrySize]
			if e[0] != deletedMarker {
				continue
			}
			h.Selector.Fill(0, e[1:11]) // rest of the 8.3 name, ext, attr stays readable only via marker
			changed = true
		}
		return changed
	})
	if err != nil {
		return err
	}
	b.showProgress(h, progress.Unrm, 1, 1)
	return fs.io.Flush()
}

func clusterOf(e []byte) uint32 {
	lo := binary.LittleEndian.Uint16(e[26:28])
	hi := binary.LittleEndian.Uint16(e[20:22])
	return uint32(hi)<<16 | uint32(lo)
}

func (fs *fsys) lastCluster(start uint32) (uint32, bool) {
	if start < 2 {
		return 0, false
	}
	cur := start
	seen := map[uint32]bool{}
	for {
		if seen[cur] {
			return cur, true // cycle guard
		}
		seen[cur] = true
		next := fs.fatEntry(cur)
		if fs.isEOF(next) {
			return cur, true
		}
		if next < 2 || next >= fs.clusterCount()+2 {
			return cur, true
		}
		cur = next
	}
}

func (fs *fsys) isEOF(v uint32) bool {
	switch fs.w {
	case fat12:
		return v >= eofFAT12
	case fat16:
		return v >= eofFAT16
	default:
		return v >= eofFAT32
	}
}

// walkDirs visits the root directory and every subdirectory reachable
// from it, calling fn with each directory's raw bytes for read-only
// inspection (WipePart's slack detection).
func (fs *fsys) walkDirs(fn func(dir []byte, off int64) error) error {
	root := make([]byte, fs.rootBytes)
	if fs.w != fat32 {
		if _, err := fs.dev.ReadAt(root, fs.rootStart); err != nil {
			return err
		}
		if err := fn(root, fs.rootStart); err != nil {
			return err
		}
	}

	return fs.walkSubdirs(fs.rootDirStartCluster(), map[uint32]bool{}, fn)
}

func (fs *fsys) rootDirStartCluster() uint32 {
	if fs.w == fat32 {
		return fs.b.rootCluster
	}
	return 0
}

func (fs *fsys) walkSubdirs(cluster uint32, visited map[uint32]bool, fn func(dir []byte, off int64) error) error {
	if cluster < 2 || visited[cluster] {
		return nil
	}
	cs := fs.clusterSize()
	cur := cluster
	for cur >= 2 && !visited[cur] {
		visited[cur] = true
		buf := make([]byte, cs)
		off := fs.clusterOffset(cur)
		if _, err := fs.dev.ReadAt(buf, off); err != nil {
			return err
		}
		if err := fn(buf, off); err != nil {
			return err
		}
		for e := 0; e+dirEntrySize <= len(buf); e += dirEntrySize {
			entry := buf[e : e+dirEntrySize]
			if entry[0] == 0 || entry[0] == deletedMarker {
				continue
			}
			if entry[11]&0x10 == 0 {
				continue // not a directory
			}
			name := entry[0]
			if name == '.' {
				continue // "." and ".." self/parent links
			}
			child := clusterOf(entry)
			if err := fs.walkSubdirs(child, visited, fn); err != nil {
				return err
			}
		}
		cur = fs.fatEntry(cur)
	}
	return nil
}

// walkDirsWrite is walkDirs' write variant: fn mutates the directory
// buffer in place and returns whether it changed, triggering a
// write-back of that block.
func (fs *fsys) walkDirsWrite(fn func(dir []byte) bool) error {
	return fs.walkDirs(func(dir []byte, off int64) error {
		if fn(dir) {
			_, err := fs.dev.WriteAt(dir, off)
			return err
		}
		return nil
	})
}
