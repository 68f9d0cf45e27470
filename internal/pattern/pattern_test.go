package pattern

import (
	"math/rand/v2"
	"testing"
)

func TestDefaultPasses(t *testing.T) {
	cases := []struct {
		m    Method
		want int
	}{
		{Gutmann, 35},
		{Random, 25},
		{Schneier, 7},
		{DoD, 3},
	}
	for _, c := range cases {
		if got := DefaultPasses(c.m); got != c.want {
			t.Errorf("DefaultPasses(%v) = %d, want %d", c.m, got, c.want)
		}
	}
}

func TestParseMethodCaseInsensitive(t *testing.T) {
	for _, s := range []string{"DOD", "dod", "DoD"} {
		if ParseMethod(s) != DoD {
			t.Errorf("ParseMethod(%q) != DoD", s)
		}
	}
	if ParseMethod("bogus") != Gutmann {
		t.Errorf("ParseMethod(bogus) should default to Gutmann")
	}
}

func TestAllZeroForcesZero(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	sel := NewSelector(Gutmann, true, uint64(DefaultPasses(Gutmann)), rng)
	buf := make([]byte, 64)
	for p := uint64(0); p < 4; p++ {
		sel.Fill(p, buf)
		for _, b := range buf {
			if b != 0 {
				t.Fatalf("pass %d: expected all-zero buffer, got %v", p, buf)
			}
		}
	}
}

func TestExpandReplicatesPrefix(t *testing.T) {
	dest := make([]byte, 13)
	expand(0xABC, dest)
	if dest[0] != 0xAB || dest[1] != 0x0A || dest[2] != 0xBC {
		t.Fatalf("unexpected first bytes: %x", dest[:3])
	}
	for i := 3; i < len(dest); i++ {
		if dest[i] != dest[i%3] {
			t.Fatalf("byte %d = %x, want replica of prefix (%x)", i, dest[i], dest[i%3])
		}
	}
}

func TestDeterministicPatternNoRepeatUntilExhausted(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 9))
	total := uint64(DefaultPasses(Schneier))
	sel := NewSelector(Schneier, false, total, rng)
	buf := make([]byte, 16)
	// Schneier: pass 0 and 1 are deterministic (sequential), 2+ random.
	sel.Fill(0, buf)
	first := append([]byte{}, buf...)
	sel.Fill(1, buf)
	if string(first) == string(buf) {
		t.Fatalf("Schneier passes 0 and 1 must differ (0xFFF then 0x000)")
	}
}

func TestBoundaryShortBuffers(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	sel := NewSelector(Gutmann, true, uint64(DefaultPasses(Gutmann)), rng)
	for n := 0; n <= 3; n++ {
		buf := make([]byte, n)
		sel.Fill(0, buf) // must not panic
	}
}

func TestWipeClears(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Wipe(buf)
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("Wipe left nonzero byte: %v", buf)
		}
	}
}
