package reiser4

import (
	"encoding/binary"
	"testing"
)

func TestParseMasterAcceptsMagic(t *testing.T) {
	raw := make([]byte, 20)
	copy(raw[0:7], magic)
	binary.LittleEndian.PutUint16(raw[18:20], 4096)
	sb, err := parseMaster(raw)
	if err != nil {
		t.Fatal(err)
	}
	if sb.blockSize != 4096 {
		t.Fatalf("blockSize = %d, want 4096", sb.blockSize)
	}
}

func TestParseMasterDefaultsBlockSize(t *testing.T) {
	raw := make([]byte, 20)
	copy(raw[0:7], magic)
	sb, err := parseMaster(raw)
	if err != nil {
		t.Fatal(err)
	}
	if sb.blockSize != 4096 {
		t.Fatalf("blockSize = %d, want default 4096", sb.blockSize)
	}
}

func TestParseMasterRejectsBadMagic(t *testing.T) {
	raw := make([]byte, 20)
	copy(raw[0:7], []byte("Nothing"))
	if _, err := parseMaster(raw); err == nil {
		t.Fatalf("expected magic rejection")
	}
}
