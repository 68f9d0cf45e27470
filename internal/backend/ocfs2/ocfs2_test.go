package ocfs2

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/elliotnunn/wipefreespace/internal/blockdev"
)

func buildImage(t *testing.T, bs int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	f.Truncate(bs * superblockBlkn + 4096)

	off := superblockBlkn * bs
	raw := make([]byte, 200)
	copy(raw[2:8], []byte(signature))
	binary.LittleEndian.PutUint32(raw[168+8:168+12], 12) // clustersize_bits = 4096
	binary.LittleEndian.PutUint32(raw[168+12:168+16], 1000)
	if _, err := f.WriteAt(raw, off); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeAtFindsSignature(t *testing.T) {
	path := buildImage(t, 1024)
	dev, err := blockdev.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	sb, _, err := probeAt(dev, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if sb.clusterSize != 4096 {
		t.Fatalf("clusterSize = %d, want 4096", sb.clusterSize)
	}
	if sb.clusters != 1000 {
		t.Fatalf("clusters = %d, want 1000", sb.clusters)
	}
}

func TestProbeAtRejectsWrongBlockSize(t *testing.T) {
	path := buildImage(t, 1024)
	dev, err := blockdev.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	if _, _, err := probeAt(dev, 2048); err == nil {
		t.Fatalf("expected mismatch at wrong block size")
	}
}
