package cachectl

import "testing"

type fakeIoctl struct {
	flushed  map[string]int
	wcache   map[string]bool
	setCalls []bool
}

func newFakeIoctl() *fakeIoctl {
	return &fakeIoctl{flushed: map[string]int{}, wcache: map[string]bool{"/dev/x": true}}
}

func (f *fakeIoctl) GetWriteCache(path string) (bool, error) { return f.wcache[path], nil }
func (f *fakeIoctl) SetWriteCache(path string, enabled bool) error {
	f.wcache[path] = enabled
	f.setCalls = append(f.setCalls, enabled)
	return nil
}
func (f *fakeIoctl) FlushCache(path string) error { f.flushed[path]++; return nil }

func newTestTable(f *fakeIoctl) *Table {
	return &Table{entries: make(map[string]*entry), ioctl: f}
}

func TestDisableEnableRestoresOriginalState(t *testing.T) {
	f := newFakeIoctl()
	tbl := newTestTable(f)

	if err := tbl.Disable("/dev/x"); err != nil {
		t.Fatal(err)
	}
	if f.wcache["/dev/x"] {
		t.Fatalf("cache should be disabled after Disable")
	}
	if err := tbl.Enable("/dev/x"); err != nil {
		t.Fatal(err)
	}
	if !f.wcache["/dev/x"] {
		t.Fatalf("cache should be restored to enabled after matching Enable")
	}
}

func TestRefCountingOnlyActsOnFirstAndLast(t *testing.T) {
	f := newFakeIoctl()
	tbl := newTestTable(f)

	tbl.Disable("/dev/x")
	tbl.Disable("/dev/x")
	if f.flushed["/dev/x"] != 1 {
		t.Fatalf("flush should happen once across nested Disable calls, got %d", f.flushed["/dev/x"])
	}
	tbl.Enable("/dev/x")
	if f.wcache["/dev/x"] {
		t.Fatalf("cache should still be disabled after only one matching Enable")
	}
	tbl.Enable("/dev/x")
	if !f.wcache["/dev/x"] {
		t.Fatalf("cache should be restored after the final Enable")
	}
}

func TestEnableWithoutDisableIsNoop(t *testing.T) {
	f := newFakeIoctl()
	tbl := newTestTable(f)
	if err := tbl.Enable("/dev/never-disabled"); err != nil {
		t.Fatalf("Enable on unknown device should be a no-op, got %v", err)
	}
}
