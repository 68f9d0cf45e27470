package blockio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/elliotnunn/wipefreespace/internal/blockdev"
)

func openTemp(t *testing.T, size int64) blockdev.Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	f.Close()
	dev, err := blockdev.Open(path, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := openTemp(t, 64*1024)
	io := &IO{Dev: dev, BlockSize: 4096, Passes: 1}
	want := bytes.Repeat([]byte{0xAB}, 4096)
	if err := io.WriteBlock(3, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4096)
	if err := io.ReadBlock(3, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip mismatch")
	}
}

func TestBadBlockWriteSwallowed(t *testing.T) {
	rw := openTemp(t, 8*4096)
	dev, err := blockdev.Open(rw.Path(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	io := &IO{Dev: dev, BlockSize: 4096, Passes: 1, Bad: BadBlocks{5: {}}}
	// the device is opened read-only, so every WriteAt fails; block 0 is
	// not bad-listed and must report the error, block 5 is and must not.
	if err := io.WriteBlock(0, make([]byte, 4096)); err == nil {
		t.Fatalf("expected write to a read-only device to fail")
	}
	err = io.WriteBlock(5, make([]byte, 4096))
	if err != nil {
		t.Fatalf("expected bad-listed write error to be swallowed, got %v", err)
	}
}

func TestShouldFlushAfterPass(t *testing.T) {
	io := &IO{Passes: 1}
	if io.ShouldFlushAfterPass(0) {
		t.Fatalf("single pass session must not flush between writes")
	}
	io = &IO{Passes: 3, Mode: PatternMajor}
	if io.ShouldFlushAfterPass(0) {
		t.Fatalf("pattern-major pass 0 must not flush")
	}
	if !io.ShouldFlushAfterPass(1) {
		t.Fatalf("pattern-major pass >0 must flush")
	}
	io = &IO{Passes: 3, Mode: BlockMajor}
	if !io.ShouldFlushAfterPass(0) {
		t.Fatalf("block-major with N>1 flushes every pass")
	}
}

func TestAllZero(t *testing.T) {
	if !AllZero(make([]byte, 16)) {
		t.Fatalf("zero buffer should report all-zero")
	}
	buf := make([]byte, 16)
	buf[15] = 1
	if AllZero(buf) {
		t.Fatalf("non-zero buffer should not report all-zero")
	}
}

func TestRunPassesAppendsLastZero(t *testing.T) {
	dev := openTemp(t, 4096)
	io := &IO{Dev: dev, BlockSize: 4096, Passes: 2, LastZero: true}
	scratch := bytes.Repeat([]byte{0xAB}, 4096)
	var seen []uint64
	err := io.RunPasses(0, scratch, scratch, func(pass uint64, dest []byte) {
		seen = append(seen, pass)
		for i := range dest {
			dest[i] = 0xCD
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("fill called for passes %v, want [0 1]", seen)
	}
	got := make([]byte, 4096)
	if err := io.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if !AllZero(got) {
		t.Fatalf("expected final block to be all-zero after LastZero pass")
	}
}

func TestRunPassesNoLastZero(t *testing.T) {
	dev := openTemp(t, 4096)
	io := &IO{Dev: dev, BlockSize: 4096, Passes: 1}
	scratch := make([]byte, 4096)
	err := io.RunPasses(0, scratch, scratch, func(pass uint64, dest []byte) {
		for i := range dest {
			dest[i] = 0xEF
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4096)
	if err := io.ReadBlock(0, got); err != nil {
		t.Fatal(err)
	}
	if AllZero(got) {
		t.Fatalf("expected last write (0xEF) to remain when LastZero is unset")
	}
}

func TestIsZeroUsesCache(t *testing.T) {
	dev := openTemp(t, 8192)
	zc := NewZeroCache()
	io := &IO{Dev: dev, BlockSize: 4096, Passes: 1, SkipZeroBlocks: true, Zero: zc}
	scratch := make([]byte, 4096)
	z, err := io.IsZero(0, scratch)
	if err != nil || !z {
		t.Fatalf("fresh all-zero file: IsZero=(%v,%v)", z, err)
	}
	if _, ok := zc.Get(io.fingerprint(), 0); !ok {
		t.Fatalf("expected IsZero to populate the cache")
	}
}
