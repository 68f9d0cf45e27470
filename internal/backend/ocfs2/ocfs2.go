// Package ocfs2 implements the OCFS2 backend: probe and superblock parse
// (block and cluster size), grounded on original_source's wfs_ocfs.c.
// WipeUnrm, WipePart and WipeFs are no-ops; no cluster bitmap is read.
package ocfs2

import (
	"bytes"
	"encoding/binary"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/blockio"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

const (
	signature      = "OCFSV2"
	superblockBlkn = 2 // OCFS2_SUPER_BLOCK_BLKNO
)

// candidateBlockSizes mirrors the set mkfs.ocfs2 actually produces;
// probing tries each until the signature lines up.
var candidateBlockSizes = []int64{512, 1024, 2048, 4096}

type superblock struct {
	blockSize   int64
	clusterSize int64
	clusters    uint32
}

func probeAt(dev blockdev.Device, bs int64) (*superblock, int64, error) {
	off := superblockBlkn * bs
	raw := make([]byte, 96)
	if _, err := dev.ReadAt(raw, off+2); err != nil { // i_signature starts at dinode offset 2
		return nil, 0, err
	}
	if !bytes.Equal(raw[0:6], []byte(signature)) {
		return nil, 0, werr.New(werr.OpenFs)
	}
	le := binary.LittleEndian
	// ocfs2_super_block fields live after the generic dinode header
	// (168 bytes) within the same block; s_clustersize_bits and
	// s_clusters_count follow s_major_version/s_minor_version.
	sb := &superblock{blockSize: bs}
	body := make([]byte, 32)
	if _, err := dev.ReadAt(body, off+168+8); err != nil {
		return nil, 0, err
	}
	clusterBits := le.Uint32(body[0:4])
	sb.clusterSize = 1 << clusterBits
	sb.clusters = le.Uint32(body[4:8])
	if sb.clusterSize < bs {
		return nil, 0, werr.New(werr.OpenFs)
	}
	return sb, off, nil
}

type fsys struct {
	dev blockdev.Device
	sb  *superblock
	io  *blockio.IO
}

// Backend implements backend.Contract for OCFS2.
type Backend struct {
	open map[*backend.Handle]*fsys
}

func New() *Backend { return &Backend{open: make(map[*backend.Handle]*fsys)} }

func (b *Backend) ID() backend.ID { return backend.OCFS2 }

func (b *Backend) Probe(h *backend.Handle) (bool, error) {
	for _, bs := range candidateBlockSizes {
		if _, _, err := probeAt(h.Dev, bs); err == nil {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) Open(h *backend.Handle) error {
	for _, bs := range candidateBlockSizes {
		sb, _, err := probeAt(h.Dev, bs)
		if err != nil {
			continue
		}
		fs := &fsys{
			dev: h.Dev,
			sb:  sb,
			io: &blockio.IO{
				Dev:            h.Dev,
				BlockSize:      sb.clusterSize,
				SkipZeroBlocks: h.Cfg.SkipZeroBlocks,
				Mode:           h.Cfg.Mode,
				Passes:         backend.EffectivePasses(h.Cfg),
				LastZero:       h.Cfg.LastZero,
			},
		}
		b.open[h] = fs
		return nil
	}
	return werr.New(werr.OpenFs)
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

// WipeFs, WipePart, and WipeUnrm all require walking the global
// allocation bitmap system inode (itself an extent-tree-addressed
// file) to tell free clusters from allocated ones; without that walk,
// overwriting "everything non-zero" would destroy live file data, not
// just recoverable remnants, so this backend deliberately leaves all
// three phases as no-ops rather than risk it. Superblock discovery
// (Probe/Open) is complete and real; the bitmap walker is the gap.
func (b *Backend) WipeFs(h *backend.Handle) error   { return nil }
func (b *Backend) WipePart(h *backend.Handle) error { return nil }
func (b *Backend) WipeUnrm(h *backend.Handle) error { return nil }
