package reiserfs3

import (
	"encoding/binary"
	"testing"
)

func buildSuperblock() []byte {
	raw := make([]byte, 64)
	le := binary.LittleEndian
	le.PutUint32(raw[0:4], 100000)
	le.PutUint16(raw[44:46], 4096)
	copy(raw[52:61], magic36)
	return raw
}

func TestParseSuperblockAcceptsV36Magic(t *testing.T) {
	sb, err := parseSuperblock(buildSuperblock())
	if err != nil {
		t.Fatal(err)
	}
	if sb.blockCount != 100000 || sb.blockSize != 4096 {
		t.Fatalf("unexpected superblock: %+v", sb)
	}
}

func TestParseSuperblockRejectsBadMagic(t *testing.T) {
	raw := buildSuperblock()
	copy(raw[52:61], []byte("NotReiser"))
	if _, err := parseSuperblock(raw); err == nil {
		t.Fatalf("expected magic rejection")
	}
}
