package ext

import (
	"encoding/binary"
	"testing"
)

func buildSuperblock(blockSize uint32) []byte {
	raw := make([]byte, superblockSize)
	le := binary.LittleEndian
	logBlockSize := uint32(0)
	for (1024 << logBlockSize) < blockSize {
		logBlockSize++
	}
	le.PutUint32(raw[0:4], 128)   // s_inodes_count
	le.PutUint32(raw[4:8], 8192)  // s_blocks_count
	le.PutUint32(raw[20:24], 1)   // s_first_data_block
	le.PutUint32(raw[24:28], logBlockSize)
	le.PutUint32(raw[32:36], 8192) // s_blocks_per_group
	le.PutUint32(raw[40:44], 128)  // s_inodes_per_group
	le.PutUint16(raw[56:58], extMagic)
	le.PutUint32(raw[76:80], 1) // s_rev_level (dynamic)
	le.PutUint32(raw[84:88], 11)
	le.PutUint16(raw[88:90], 128)
	return raw
}

func TestParseSuperblockRejectsBadMagic(t *testing.T) {
	raw := buildSuperblock(1024)
	raw[56] = 0
	raw[57] = 0
	if _, err := parseSuperblock(raw); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestParseSuperblockBlockSize(t *testing.T) {
	raw := buildSuperblock(4096)
	sb, err := parseSuperblock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if sb.blockSize() != 4096 {
		t.Fatalf("blockSize = %d, want 4096", sb.blockSize())
	}
	if sb.groupCount() != 1 {
		t.Fatalf("groupCount = %d, want 1", sb.groupCount())
	}
}

func TestParseSuperblockState(t *testing.T) {
	raw := buildSuperblock(1024)
	binary.LittleEndian.PutUint16(raw[58:60], stateValidFs)
	sb, err := parseSuperblock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if sb.hasErrors() {
		t.Fatalf("valid-only state must not report errors")
	}
	if sb.isDirty() {
		t.Fatalf("EXT2_VALID_FS set must not report dirty")
	}

	binary.LittleEndian.PutUint16(raw[58:60], stateErrorFs)
	sb, err = parseSuperblock(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !sb.hasErrors() {
		t.Fatalf("EXT2_ERROR_FS set must report errors")
	}
	if !sb.isDirty() {
		t.Fatalf("EXT2_VALID_FS unset must report dirty")
	}
}

func TestParseSuperblockRejects64Bit(t *testing.T) {
	raw := buildSuperblock(1024)
	binary.LittleEndian.PutUint32(raw[96:100], incompat64Bit)
	if _, err := parseSuperblock(raw); err == nil {
		t.Fatalf("expected 64bit feature to be rejected")
	}
}

func buildClassicInode(size uint64, blocks []uint32) []byte {
	raw := make([]byte, 128)
	le := binary.LittleEndian
	le.PutUint16(raw[0:2], 0x8000) // regular file
	le.PutUint32(raw[4:8], uint32(size))
	for i, b := range blocks {
		if i >= 15 {
			break
		}
		le.PutUint32(raw[40+4*i:44+4*i], b)
	}
	return raw
}

func TestParseInodeDirectBlocks(t *testing.T) {
	raw := buildClassicInode(5000, []uint32{100, 101, 102})
	in, err := parseInode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !in.isReg() {
		t.Fatalf("expected regular file mode")
	}
	if in.size != 5000 {
		t.Fatalf("size = %d, want 5000", in.size)
	}
	if in.block[0] != 100 || in.block[1] != 101 || in.block[2] != 102 {
		t.Fatalf("unexpected block pointers: %v", in.block[:3])
	}
}

func TestBlockWalkerClassicDirectOnly(t *testing.T) {
	raw := buildClassicInode(3000, []uint32{10, 11, 12})
	in, err := parseInode(raw)
	if err != nil {
		t.Fatal(err)
	}
	sb := &superblock{logBlockSize: 0} // 1024-byte blocks
	w := newBlockWalker(&fsys{sb: sb}, in)

	var got []uint64
	err = w.eachClassic(func(blk uint64) bool {
		got = append(got, blk)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 11 || got[2] != 12 {
		t.Fatalf("unexpected walk result: %v", got)
	}
}

func TestBlockWalkerExtentLeaf(t *testing.T) {
	raw := buildClassicInode(8192, nil)
	le := binary.LittleEndian
	le.PutUint16(raw[40:42], 0xF30A) // eh_magic
	le.PutUint16(raw[42:44], 1)      // eh_entries
	le.PutUint16(raw[46:48], 0)      // eh_depth = leaf

	entOff := 40 + 12
	le.PutUint32(raw[entOff:entOff+4], 0)  // ee_block
	le.PutUint16(raw[entOff+4:entOff+6], 4) // ee_len = 4 blocks
	le.PutUint16(raw[entOff+6:entOff+8], 0) // ee_start_hi
	le.PutUint32(raw[entOff+8:entOff+12], 200)

	raw[32] = 0
	raw[33] = 0
	raw[34] = 0x08 // extents flag bit 19 -> low byte of i_flags is at offset 32
	le.PutUint32(raw[32:36], extentsFlag)

	in, err := parseInode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !in.hasExtents() {
		t.Fatalf("expected extents flag set")
	}
	sb := &superblock{logBlockSize: 0}
	w := newBlockWalker(&fsys{sb: sb}, in)

	var got []uint64
	if err := w.eachExtent(func(blk uint64) bool {
		got = append(got, blk)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	want := []uint64{200, 201, 202, 203}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAlign4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 4: 4, 5: 8, 8: 8, 9: 12}
	for in, want := range cases {
		if got := align4(in); got != want {
			t.Fatalf("align4(%d) = %d, want %d", in, got, want)
		}
	}
}
