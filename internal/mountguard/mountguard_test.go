package mountguard

import "testing"

func TestHasOpt(t *testing.T) {
	if !hasOpt("rw,seclabel,relatime", "rw") {
		t.Fatalf("expected rw to be found")
	}
	if hasOpt("ro,seclabel,relatime", "rw") {
		t.Fatalf("did not expect rw to be found in ro opts")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Unmounted: "unmounted",
		MountedRo: "mounted read-only",
		MountedRw: "mounted read-write",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
