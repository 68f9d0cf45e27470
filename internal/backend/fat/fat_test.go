package fat

import (
	"encoding/binary"
	"testing"
)

func buildFAT16BPB() []byte {
	raw := make([]byte, 512)
	le := binary.LittleEndian
	le.PutUint16(raw[11:13], 512) // bytes per sector
	raw[13] = 4                   // sectors per cluster
	le.PutUint16(raw[14:16], 1)   // reserved sectors
	raw[16] = 2                   // numFATs
	le.PutUint16(raw[17:19], 512) // root entries
	le.PutUint16(raw[19:21], 65535)
	le.PutUint16(raw[22:24], 32) // sectors per FAT (small, forces fat16 bucket)
	raw[510] = 0x55
	raw[511] = 0xAA
	return raw
}

func TestParseBPBDetectsFAT16(t *testing.T) {
	raw := buildFAT16BPB()
	b, w, err := parseBPB(raw)
	if err != nil {
		t.Fatal(err)
	}
	if w != fat16 {
		t.Fatalf("width = %v, want fat16", w)
	}
	if b.bytesPerSector != 512 {
		t.Fatalf("bytesPerSector = %d", b.bytesPerSector)
	}
}

func TestParseBPBRejectsZeroSectorSize(t *testing.T) {
	raw := buildFAT16BPB()
	binary.LittleEndian.PutUint16(raw[11:13], 0)
	if _, _, err := parseBPB(raw); err == nil {
		t.Fatalf("expected error for zero bytes-per-sector")
	}
}

func TestFatEntryFAT16RoundTrip(t *testing.T) {
	fs := &fsys{w: fat16, fatBytes: make([]byte, 64)}
	binary.LittleEndian.PutUint16(fs.fatBytes[6:8], 0xABCD)
	if got := fs.fatEntry(3); got != 0xABCD {
		t.Fatalf("fatEntry(3) = %#x, want 0xABCD", got)
	}
}

func TestFatEntryFAT12PackedNibbles(t *testing.T) {
	fs := &fsys{w: fat12, fatBytes: make([]byte, 12)}
	// cluster 1 (odd): high nibble of byte[1] and all of byte[2]
	// cluster 2 (even): all of byte[3] and low nibble of byte[4]
	fs.fatBytes[1] = 0x23
	fs.fatBytes[2] = 0x45
	fs.fatBytes[3] = 0x06
	e1 := fs.fatEntry(1)
	e2 := fs.fatEntry(2)
	if e1 != 0x452 {
		t.Fatalf("fatEntry(1) = %#x, want 0x452", e1)
	}
	if e2 != 0x006 {
		t.Fatalf("fatEntry(2) = %#x, want 0x006", e2)
	}
}

func TestIsEOFPerWidth(t *testing.T) {
	cases := []struct {
		w    width
		v    uint32
		want bool
	}{
		{fat12, eofFAT12, true},
		{fat12, 5, false},
		{fat16, eofFAT16, true},
		{fat32, eofFAT32 + 3, true},
	}
	for _, c := range cases {
		fs := &fsys{w: c.w}
		if got := fs.isEOF(c.v); got != c.want {
			t.Fatalf("isEOF(%v,%#x) = %v, want %v", c.w, c.v, got, c.want)
		}
	}
}

func TestClusterOf(t *testing.T) {
	e := make([]byte, dirEntrySize)
	binary.LittleEndian.PutUint16(e[26:28], 0x1234)
	binary.LittleEndian.PutUint16(e[20:22], 0x0001)
	got := clusterOf(e)
	if got != 0x00011234 {
		t.Fatalf("clusterOf = %#x, want 0x00011234", got)
	}
}
