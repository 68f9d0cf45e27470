package blockdev

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	qcow2 "github.com/zchee/go-qcow2"
)

var qcowMagic = qcow2.QcowMagic

const (
	l1EntryOffsetMask = 0x00fffffffffffe00
	l2EntryOffsetMask = 0x00fffffffffffe00
	l2EntryCopiedFlag = uint64(1) << 63
)

// qcow2Device maps virtual (guest) byte offsets onto host offsets inside
// a qcow2 image via its L1/L2 cluster tables, allocating new clusters on
// write when a region was previously a sparse hole. It intentionally does
// not implement refcount-table maintenance, compressed clusters, internal
// snapshots, or backing files: wipefreespace only ever overwrites bytes a
// filesystem backend already believes are allocated, so the cases this
// narrows away (copy-on-write sharing, snapshot chains) never arise for a
// single target image opened read-write.
type qcow2Device struct {
	f    *os.File
	path string

	mu          sync.Mutex
	clusterBits uint32
	clusterSize int64
	size        int64
	l1Size      uint32
	l1Offset    int64
	l2Entries   int64
}

func newQCOW2Device(f *os.File, path string) (*qcow2Device, error) {
	var hdr [104]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("qcow2: read header: %w", err)
	}
	be := binary.BigEndian
	version := be.Uint32(hdr[4:8])
	if version < 2 || version > 3 {
		return nil, fmt.Errorf("qcow2: unsupported version %d", version)
	}
	clusterBits := be.Uint32(hdr[20:24])
	if clusterBits < 9 || clusterBits > 21 {
		return nil, fmt.Errorf("qcow2: implausible cluster_bits %d", clusterBits)
	}
	size := int64(be.Uint64(hdr[24:32]))
	cryptMethod := be.Uint32(hdr[32:36])
	if cryptMethod != 0 {
		return nil, fmt.Errorf("qcow2: encrypted images unsupported")
	}
	l1Size := be.Uint32(hdr[36:40])
	l1Offset := int64(be.Uint64(hdr[40:48]))

	clusterSize := int64(1) << clusterBits
	dev := &qcow2Device{
		f:           f,
		path:        path,
		clusterBits: clusterBits,
		clusterSize: clusterSize,
		size:        size,
		l1Size:      l1Size,
		l1Offset:    l1Offset,
		l2Entries:   clusterSize / 8,
	}
	return dev, nil
}

func (d *qcow2Device) Path() string            { return d.path }
func (d *qcow2Device) Size() (int64, error)    { return d.size, nil }
func (d *qcow2Device) Flush() error            { return d.f.Sync() }
func (d *qcow2Device) Close() error            { return d.f.Close() }

// clusterOffset returns the host offset of the data cluster holding
// guestOff, reading (and, when alloc is set, allocating) the L1/L2
// entries as needed.
func (d *qcow2Device) clusterOffset(guestOff int64, alloc bool) (int64, error) {
	clusterIdx := guestOff / d.clusterSize
	l1Idx := clusterIdx / d.l2Entries
	l2Idx := clusterIdx % d.l2Entries
	if l1Idx >= int64(d.l1Size) {
		return 0, fmt.Errorf("qcow2: l1 index %d out of range (l1_size=%d)", l1Idx, d.l1Size)
	}

	var l1raw [8]byte
	if _, err := d.f.ReadAt(l1raw[:], d.l1Offset+l1Idx*8); err != nil {
		return 0, fmt.Errorf("qcow2: read L1[%d]: %w", l1Idx, err)
	}
	l1entry := binary.BigEndian.Uint64(l1raw[:])
	l2TableOff := int64(l1entry & l1EntryOffsetMask)

	if l2TableOff == 0 {
		if !alloc {
			return 0, nil // sparse hole, reads as zero
		}
		var err error
		l2TableOff, err = d.allocCluster()
		if err != nil {
			return 0, err
		}
		if err := d.zeroCluster(l2TableOff); err != nil {
			return 0, err
		}
		newEntry := uint64(l2TableOff) | l2EntryCopiedFlag
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], newEntry)
		if _, err := d.f.WriteAt(buf[:], d.l1Offset+l1Idx*8); err != nil {
			return 0, fmt.Errorf("qcow2: write L1[%d]: %w", l1Idx, err)
		}
	}

	var l2raw [8]byte
	if _, err := d.f.ReadAt(l2raw[:], l2TableOff+l2Idx*8); err != nil {
		return 0, fmt.Errorf("qcow2: read L2[%d]: %w", l2Idx, err)
	}
	l2entry := binary.BigEndian.Uint64(l2raw[:])
	if l2entry&(uint64(1)<<62) != 0 {
		return 0, fmt.Errorf("qcow2: compressed clusters unsupported")
	}
	hostOff := int64(l2entry & l2EntryOffsetMask)

	if hostOff == 0 {
		if !alloc {
			return 0, nil
		}
		var err error
		hostOff, err = d.allocCluster()
		if err != nil {
			return 0, err
		}
		if err := d.zeroCluster(hostOff); err != nil {
			return 0, err
		}
		newEntry := uint64(hostOff) | l2EntryCopiedFlag
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], newEntry)
		if _, err := d.f.WriteAt(buf[:], l2TableOff+l2Idx*8); err != nil {
			return 0, fmt.Errorf("qcow2: write L2[%d]: %w", l2Idx, err)
		}
	}
	return hostOff, nil
}

// allocCluster extends the image file by one cluster, cluster-aligned,
// and returns its host offset. A bump allocator is sufficient here: this
// device only grows during a wipe of previously-sparse holes, never
// shrinks, and nothing else writes to the image concurrently.
func (d *qcow2Device) allocCluster() (int64, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	end := info.Size()
	aligned := ((end + d.clusterSize - 1) / d.clusterSize) * d.clusterSize
	if err := d.f.Truncate(aligned + d.clusterSize); err != nil {
		return 0, err
	}
	return aligned, nil
}

func (d *qcow2Device) zeroCluster(hostOff int64) error {
	zero := make([]byte, d.clusterSize)
	_, err := d.f.WriteAt(zero, hostOff)
	return err
}

func (d *qcow2Device) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for total < len(p) {
		guestOff := off + int64(total)
		clusterBase := (guestOff / d.clusterSize) * d.clusterSize
		offInCluster := guestOff - clusterBase
		want := d.clusterSize - offInCluster
		if want > int64(len(p)-total) {
			want = int64(len(p) - total)
		}
		hostOff, err := d.clusterOffset(guestOff, false)
		if err != nil {
			return total, err
		}
		if hostOff == 0 {
			for i := int64(0); i < want; i++ {
				p[int64(total)+i] = 0
			}
		} else {
			if _, err := d.f.ReadAt(p[total:int64(total)+want], hostOff+offInCluster); err != nil {
				return total, err
			}
		}
		total += int(want)
	}
	return total, nil
}

func (d *qcow2Device) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for total < len(p) {
		guestOff := off + int64(total)
		clusterBase := (guestOff / d.clusterSize) * d.clusterSize
		offInCluster := guestOff - clusterBase
		want := d.clusterSize - offInCluster
		if want > int64(len(p)-total) {
			want = int64(len(p) - total)
		}
		hostOff, err := d.clusterOffset(guestOff, true)
		if err != nil {
			return total, err
		}
		if _, err := d.f.WriteAt(p[total:int64(total)+want], hostOff+offInCluster); err != nil {
			return total, err
		}
		total += int(want)
	}
	return total, nil
}
