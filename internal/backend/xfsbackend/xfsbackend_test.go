package xfsbackend

import "testing"

func TestParseFreesp(t *testing.T) {
	out := []byte("   0    128        64\n   0    500        10\nsome header line\n")
	exts := parseFreesp(out)
	if len(exts) != 2 {
		t.Fatalf("got %d extents, want 2", len(exts))
	}
	if exts[0].startBlock != 128 || exts[0].blockCount != 64 {
		t.Fatalf("unexpected first extent: %+v", exts[0])
	}
	if exts[1].startBlock != 500 || exts[1].blockCount != 10 {
		t.Fatalf("unexpected second extent: %+v", exts[1])
	}
}

func TestParseFreespSkipsMalformedLines(t *testing.T) {
	out := []byte("freesp -d -h1\n   0    abc        64\n")
	exts := parseFreesp(out)
	if len(exts) != 0 {
		t.Fatalf("expected malformed line to be skipped, got %+v", exts)
	}
}
