package ntfs

import (
	"encoding/binary"
	"testing"
)

func buildBoot() []byte {
	raw := make([]byte, 80)
	copy(raw[3:11], oemID)
	le := binary.LittleEndian
	le.PutUint16(raw[11:13], 512)
	raw[13] = 8
	le.PutUint64(raw[40:48], 200000)
	le.PutUint64(raw[48:56], 4)
	return raw
}

func TestParseBootSector(t *testing.T) {
	bs, err := parseBootSector(buildBoot())
	if err != nil {
		t.Fatal(err)
	}
	if bs.clusterSize() != 4096 {
		t.Fatalf("clusterSize = %d, want 4096", bs.clusterSize())
	}
}

func TestParseBootSectorRejectsWrongOEM(t *testing.T) {
	raw := buildBoot()
	copy(raw[3:11], []byte("EXFAT   "))
	if _, err := parseBootSector(raw); err == nil {
		t.Fatalf("expected OEM mismatch rejection")
	}
}
