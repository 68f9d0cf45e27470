package minixfs

import (
	"encoding/binary"
	"testing"
)

func buildSuperblock() []byte {
	raw := make([]byte, 24)
	le := binary.LittleEndian
	le.PutUint16(raw[2:4], 100) // nzones (v1)
	le.PutUint16(raw[4:6], 1)   // imapBlocks
	le.PutUint16(raw[6:8], 1)   // zmapBlocks
	le.PutUint16(raw[8:10], 10) // firstDataZone
	le.PutUint16(raw[10:12], 0) // logZoneSize
	le.PutUint16(raw[16:18], magicV1)
	return raw
}

func TestParseSuperblockV1(t *testing.T) {
	sb, err := parseSuperblock(buildSuperblock())
	if err != nil {
		t.Fatal(err)
	}
	if sb.nzones != 100 {
		t.Fatalf("nzones = %d, want 100", sb.nzones)
	}
	if sb.zoneSize() != 1024 {
		t.Fatalf("zoneSize = %d, want 1024", sb.zoneSize())
	}
}

func TestParseSuperblockRejectsBadMagic(t *testing.T) {
	raw := buildSuperblock()
	binary.LittleEndian.PutUint16(raw[16:18], 0xDEAD)
	if _, err := parseSuperblock(raw); err == nil {
		t.Fatalf("expected bad-magic rejection")
	}
}

func TestParseSuperblockV2UsesWideZoneCount(t *testing.T) {
	raw := buildSuperblock()
	binary.LittleEndian.PutUint16(raw[16:18], magicV2)
	binary.LittleEndian.PutUint32(raw[20:24], 70000)
	sb, err := parseSuperblock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if sb.nzones != 70000 {
		t.Fatalf("nzones = %d, want 70000", sb.nzones)
	}
}
