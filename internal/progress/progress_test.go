package progress

import (
	"sync"
	"testing"
)

func TestSignalCooperative(t *testing.T) {
	var s Signal
	if s.Cancelled() {
		t.Fatalf("fresh Signal must not be cancelled")
	}
	s.Raise(2) // SIGINT
	if !s.Cancelled() {
		t.Fatalf("Raise must set Cancelled")
	}
	if s.Received() != 2 {
		t.Fatalf("Received() = %d, want 2", s.Received())
	}
	s.Reset()
	if s.Cancelled() {
		t.Fatalf("Reset must clear Cancelled")
	}
}

func TestReporterOnlyEmitsIncreases(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	r := &Reporter{Emit: func(phase Phase, percent int) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, percent)
	}}
	for _, p := range []int{0, 10, 10, 5, 20, 20, 100} {
		r.ShowProgress(Wfs, p)
	}
	want := []int{0, 10, 20, 100}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestReporterPhasesIndependent(t *testing.T) {
	var mu sync.Mutex
	counts := map[Phase]int{}
	r := &Reporter{Emit: func(phase Phase, percent int) {
		mu.Lock()
		defer mu.Unlock()
		counts[phase]++
	}}
	r.ShowProgress(Unrm, 50)
	r.ShowProgress(Part, 50)
	r.ShowProgress(Wfs, 50)
	if counts[Unrm] != 1 || counts[Part] != 1 || counts[Wfs] != 1 {
		t.Fatalf("phases should report independently: %v", counts)
	}
}

func TestBusDeliversReports(t *testing.T) {
	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	b := NewBus(func(dev string, phase Phase, percent int) {
		mu.Lock()
		got = append(got, percent)
		mu.Unlock()
		if percent == 100 {
			close(done)
		}
	})
	b.Send("/dev/x", Wfs, 50)
	b.Send("/dev/x", Wfs, 100)
	<-done
	b.Close()
	mu.Lock()
	defer mu.Unlock()
	if len(got) < 1 {
		t.Fatalf("expected at least one report, got %v", got)
	}
}
