// Package fat implements the FAT12/16/32 family backend.
package fat

import (
	"encoding/binary"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/blockio"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

const (
	// Usable-cluster masks and end-of-chain markers, per FAT width.
	maskFAT12 = 0x00000FFF
	maskFAT16 = 0x0000FFFF
	maskFAT32 = 0x0FFFFFFF

	eofFAT12 = 0x00000FF8
	eofFAT16 = 0x0000FFF8
	eofFAT32 = 0x0FFFFFF8

	deletedMarker = 0xE5
	dirEntrySize  = 32
)

type width int

const (
	fat12 width = 12
	fat16 width = 16
	fat32 width = 32
)

type bpb struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntries       uint16
	totalSectors      uint32
	sectorsPerFAT     uint32
	rootCluster       uint32 // FAT32 only
}

func parseBPB(raw []byte) (*bpb, width, error) {
	if len(raw) < 90 {
		return nil, 0, werr.New(werr.OpenFs)
	}
	le := binary.LittleEndian
	b := &bpb{
		bytesPerSector:    le.Uint16(raw[11:13]),
		sectorsPerCluster: raw[13],
		reservedSectors:   le.Uint16(raw[14:16]),
		numFATs:           raw[16],
		rootEntries:       le.Uint16(raw[17:19]),
	}
	totalSectors16 := le.Uint16(raw[19:21])
	if totalSectors16 != 0 {
		b.totalSectors = uint32(totalSectors16)
	} else {
		b.totalSectors = le.Uint32(raw[32:36])
	}

	sectorsPerFAT16 := le.Uint16(raw[22:24])
	if sectorsPerFAT16 != 0 {
		b.sectorsPerFAT = uint32(sectorsPerFAT16)
	} else {
		b.sectorsPerFAT = le.Uint32(raw[36:40])
		b.rootCluster = le.Uint32(raw[44:48])
	}

	if b.bytesPerSector == 0 || b.sectorsPerCluster == 0 || b.numFATs == 0 {
		return nil, 0, werr.New(werr.OpenFs)
	}

	rootDirSectors := (uint32(b.rootEntries)*dirEntrySize + uint32(b.bytesPerSector) - 1) / uint32(b.bytesPerSector)
	dataSectors := b.totalSectors - (uint32(b.reservedSectors) + uint32(b.numFATs)*b.sectorsPerFAT + rootDirSectors)
	countOfClusters := dataSectors / uint32(b.sectorsPerCluster)

	var w width
	switch {
	case countOfClusters < 4085:
		w = fat12
	case countOfClusters < 65525:
		w = fat16
	default:
		w = fat32
	}
	return b, w, nil
}

type fsys struct {
	dev      blockdev.Device
	b        *bpb
	w        width
	io       *blockio.IO
	fatBytes []byte // cached first FAT
	fatStart int64  // byte offset of FAT #0
	dataStart int64 // byte offset of cluster 2
	rootStart int64 // byte offset of fixed root dir (FAT12/16 only)
	rootBytes int64
}

func (fs *fsys) clusterSize() int64 {
	return int64(fs.b.bytesPerSector) * int64(fs.b.sectorsPerCluster)
}

func (fs *fsys) clusterOffset(cluster uint32) int64 {
	return fs.dataStart + int64(cluster-2)*fs.clusterSize()
}

// Backend implements backend.Contract for FAT12/16/32.
type Backend struct {
	open map[*backend.Handle]*fsys
}

func New() *Backend { return &Backend{open: make(map[*backend.Handle]*fsys)} }

func (b *Backend) ID() backend.ID { return backend.FAT }

func (b *Backend) Probe(h *backend.Handle) (bool, error) {
	raw := make([]byte, 512)
	if _, err := h.Dev.ReadAt(raw, 0); err != nil {
		return false, nil
	}
	if raw[510] != 0x55 || raw[511] != 0xAA {
		return false, nil
	}
	_, _, err := parseBPB(raw)
	return err == nil, nil
}

func (b *Backend) Open(h *backend.Handle) error {
	raw := make([]byte, 512)
	if _, err := h.Dev.ReadAt(raw, 0); err != nil {
		return err
	}
	bb, w, err := parseBPB(raw)
	if err != nil {
		return err
	}

	sectorSize := int64(bb.bytesPerSector)
	fatStart := int64(bb.reservedSectors) * sectorSize
	fatSize := int64(bb.sectorsPerFAT) * sectorSize
	rootStart := fatStart + int64(bb.numFATs)*fatSize
	rootBytes := int64(bb.rootEntries) * dirEntrySize
	dataStart := rootStart + rootBytes

	fatBuf := make([]byte, fatSize)
	if _, err := h.Dev.ReadAt(fatBuf, fatStart); err != nil {
		return err
	}

	fs := &fsys{
		dev:       h.Dev,
		b:         bb,
		w:         w,
		fatBytes:  fatBuf,
		fatStart:  fatStart,
		dataStart: dataStart,
		rootStart: rootStart,
		rootBytes: rootBytes,
		io: &blockio.IO{
			Dev:            h.Dev,
			BlockSize:      sectorSize * int64(bb.sectorsPerCluster),
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

// fatEntry reads cluster n's value out of the cached FAT, width-aware.
func (fs *fsys) fatEntry(n uint32) uint32 {
	switch fs.w {
	case fat12:
		off := n + n/2
		if int(off)+1 >= len(fs.fatBytes) {
			return eofFAT12
		}
		v := uint16(fs.fatBytes[off]) | uint16(fs.fatBytes[off+1])<<8
		if n&1 == 1 {
			v >>= 4
		} else {
			v &= 0x0FFF
		}
		return uint32(v)
	case fat16:
		off := int(n) * 2
		if off+2 > len(fs.fatBytes) {
			return eofFAT16
		}
		return uint32(binary.LittleEndian.Uint16(fs.fatBytes[off : off+2]))
	default:
		off := int(n) * 4
		if off+4 > len(fs.fatBytes) {
			return eofFAT32
		}
		return binary.LittleEndian.Uint32(fs.fatBytes[off:off+4]) & maskFAT32
	}
}

func (fs *fsys) isFree(n uint32) bool { return fs.fatEntry(n) == 0 }

func (fs *fsys) clusterCount() uint32 {
	switch fs.w {
	case fat12:
		return uint32(len(fs.fatBytes)) * 2 / 3
	case fat16:
		return uint32(len(fs.fatBytes)) / 2
	default:
		return uint32(len(fs.fatBytes)) / 4
	}
}

func (b *Backend) showProgress(h *backend.Handle, phase progress.Phase, done, total int64) {
	if h.Report == nil || total == 0 {
		return
	}
	h.Report.ShowProgress(phase, int(done*100/total))
}
