package ext

import (
	"encoding/binary"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

// WipeFs overwrites every block a group's block bitmap marks free, pass
// by pass, using the session's Selector.
func (b *Backend) WipeFs(h *backend.Handle) error {
	fs := b.open[h]
	bs := fs.sb.blockSize()
	bitmap := make([]byte, bs)
	scratch := make([]byte, bs)

	totalGroups := int64(len(fs.gds))
	for g, gd := range fs.gds {
		if h.Sig.Cancelled() {
			return werr.New(werr.Signal)
		}
		if err := fs.io.ReadBlock(int64(gd.blockBitmap), bitmap); err != nil {
			return err
		}

		blocksInGroup := fs.sb.blocksPerGroup
		firstBlock := fs.sb.firstDataBlock + uint32(g)*fs.sb.blocksPerGroup
		for bit := uint32(0); bit < blocksInGroup; bit++ {
			byteIdx, mask := bit/8, byte(1<<(bit%8))
			if byteIdx >= uint32(len(bitmap)) {
				break
			}
			free := bitmap[byteIdx]&mask == 0
			if !free {
				continue
			}
			blk := int64(firstBlock + bit)

			zero, err := fs.io.IsZero(blk, scratch)
			if err != nil {
				return err
			}
			if zero {
				continue
			}

			if err := wipeBlock(h, fs, blk, scratch); err != nil {
				return err
			}
		}
		b.showProgress(h, progress.Wfs, int64(g)+1, totalGroups)
	}
	return fs.io.Flush()
}

// WipePart overwrites the unused tail of every regular file's last
// allocated block, matching the original's "wipe the slack past
// i_size within the last block" behavior. Sparse/indexed directories
// (EXT2_INDEX_FL) are skipped since their tail holds htree metadata,
// not plain data.
func (b *Backend) WipePart(h *backend.Handle) error {
	fs := b.open[h]
	bs := fs.sb.blockSize()
	scratch := make([]byte, bs)

	total := int64(fs.sb.inodesCount)
	for ino := int64(fs.sb.firstIno); ino <= total; ino++ {
		if h.Sig.Cancelled() {
			return werr.New(werr.Signal)
		}
		in, err := fs.readInode(ino)
		if err != nil || in == nil {
			continue
		}
		if !in.isReg() || in.isIndexed() {
			continue
		}
		tailLen := in.size % uint64(bs)
		if tailLen == 0 {
			continue
		}
		w := newBlockWalker(fs, in)
		last, found, err := w.lastDataBlock()
		if err != nil {
			return err
		}
		if !found {
			continue
		}

		if err := fs.io.ReadBlock(int64(last), scratch); err != nil {
			return err
		}
		if err := fs.io.RunPasses(int64(last), scratch, scratch[tailLen:], h.Selector.Fill); err != nil {
			return err
		}
		b.showProgress(h, progress.Part, ino, total)
	}
	return fs.io.Flush()
}

// WipeUnrm overwrites the slack left behind by unlinked directory
// entries (rec_len exceeding the entry's own aligned size) and, when a
// journal inode exists, the journal's data blocks past its header.
func (b *Backend) WipeUnrm(h *backend.Handle) error {
	fs := b.open[h]
	bs := fs.sb.blockSize()

	total := int64(fs.sb.inodesCount)
	for ino := int64(fs.sb.firstIno); ino <= total; ino++ {
		if h.Sig.Cancelled() {
			return werr.New(werr.Signal)
		}
		in, err := fs.readInode(ino)
		if err != nil || in == nil || !in.isDir() {
			continue
		}
		if err := b.wipeDirSlack(h, fs, in); err != nil {
			return err
		}
		b.showProgress(h, progress.Unrm, ino, total)
	}

	if fs.sb.hasJournal {
		if err := b.wipeJournalTail(h, fs); err != nil {
			return err
		}
	}
	return fs.io.Flush()
}

// wipeDirSlack walks each directory block's entries by rec_len; any
// gap between an entry's real size and its stored rec_len is the
// trailing remnant of a coalesced, unlinked entry (ext2 unlink merges
// the freed slot into the preceding rec_len without zeroing the freed
// name bytes). This is a simplified stand-in for libext2fs's
// deleted-entry iterator: it only detects slack trailing a live entry,
// not an entirely-deleted block with no live neighbor.
func (b *Backend) wipeDirSlack(h *backend.Handle, fs *fsys, dirIno *inode) error {
	bs := fs.sb.blockSize()
	buf := make([]byte, bs)
	w := newBlockWalker(fs, dirIno)

	return w.Each(func(blk uint64) bool {
		if err := fs.io.ReadBlock(int64(blk), buf); err != nil {
			return true
		}
		changed := false
		off := 0
		for off+8 <= len(buf) {
			recLen := int(binary.LittleEndian.Uint16(buf[off+4 : off+6]))
			if recLen < 8 {
				break
			}
			nameLen := int(buf[off+6])
			realLen := align4(8 + nameLen)
			if recLen > realLen && off+recLen <= len(buf) {
				slack := buf[off+realLen : off+recLen]
				h.Selector.Fill(0, slack)
				changed = true
			}
			off += recLen
		}
		if changed {
			fs.io.WriteBlock(int64(blk), buf)
		}
		return true
	})
}

func align4(n int) int { return (n + 3) &^ 3 }

// wipeJournalTail overwrites the journal inode's data blocks after its
// first (superblock) block, treating stale committed transactions as
// recoverable slack the same way unallocated space is.
func (b *Backend) wipeJournalTail(h *backend.Handle, fs *fsys) error {
	in, err := fs.readInode(int64(fs.sb.journalInum))
	if err != nil || in == nil {
		return nil
	}
	bs := fs.sb.blockSize()
	scratch := make([]byte, bs)
	w := newBlockWalker(fs, in)
	first := true
	return w.Each(func(blk uint64) bool {
		if first {
			first = false
			return true
		}
		h.Selector.Fill(0, scratch)
		fs.io.WriteBlock(int64(blk), scratch)
		return true
	})
}

func wipeBlock(h *backend.Handle, fs *fsys, blk int64, scratch []byte) error {
	return fs.io.RunPasses(blk, scratch, scratch, h.Selector.Fill)
}

// readInode locates and parses inode number ino (1-based).
func (fs *fsys) readInode(ino int64) (*inode, error) {
	if ino < 1 || ino > int64(fs.sb.inodesCount) {
		return nil, nil
	}
	idx := ino - 1
	group := idx / int64(fs.sb.inodesPerGroup)
	indexInGroup := idx % int64(fs.sb.inodesPerGroup)
	if group >= int64(len(fs.gds)) {
		return nil, nil
	}
	gd := fs.gds[group]
	bs := fs.sb.blockSize()
	inodeSize := int64(fs.sb.inodeSize)
	offset := int64(gd.inodeTable)*bs + indexInGroup*inodeSize

	raw := make([]byte, inodeSize)
	if _, err := fs.dev.ReadAt(raw, offset); err != nil {
		return nil, err
	}
	return parseInode(raw)
}
