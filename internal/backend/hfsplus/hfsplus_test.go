package hfsplus

import (
	"encoding/binary"
	"testing"
)

func buildVolumeHeader(blockSize, totalBlocks uint32) []byte {
	raw := make([]byte, 512)
	be := binary.BigEndian
	be.PutUint16(raw[0:2], signatureHFSPlus)
	be.PutUint32(raw[40:44], blockSize)
	be.PutUint32(raw[44:48], totalBlocks)
	be.PutUint64(raw[112:120], 100) // allocation file logical size
	be.PutUint32(raw[132:136], 1)   // first extent start block
	be.PutUint32(raw[136:140], 1)   // first extent block count
	return raw
}

func TestParseVolumeHeaderRejectsBadSignature(t *testing.T) {
	raw := buildVolumeHeader(4096, 1000)
	raw[0] = 0
	raw[1] = 0
	if _, err := parseVolumeHeader(raw); err == nil {
		t.Fatalf("expected signature rejection")
	}
}

func TestParseVolumeHeaderFields(t *testing.T) {
	raw := buildVolumeHeader(4096, 1000)
	vh, err := parseVolumeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if vh.blockSize != 4096 || vh.totalBlocks != 1000 {
		t.Fatalf("unexpected header: %+v", vh)
	}
	if vh.allocationFile.extents[0][0] != 1 || vh.allocationFile.extents[0][1] != 1 {
		t.Fatalf("unexpected allocation extent: %v", vh.allocationFile.extents[0])
	}
}

func TestBitmapBytesFor(t *testing.T) {
	if got := bitmapBytesFor(16); got != 2 {
		t.Fatalf("bitmapBytesFor(16) = %d, want 2", got)
	}
	if got := bitmapBytesFor(17); got != 3 {
		t.Fatalf("bitmapBytesFor(17) = %d, want 3", got)
	}
}
