// Package cachectl implements Device Cache Control (component C4):
// optionally disabling and later restoring a block device's write cache,
// with reference counting shared across devices processed in one run.
package cachectl

import "sync"

// entry tracks one device's original cache state and how many times
// disable has been called without a matching enable.
type entry struct {
	refs        int
	wasEnabled  bool
	everChecked bool
}

// Table is the single process-global mutable cache-ioctl table described
// by the concurrency model: keyed by device path, accessed strictly
// sequentially (one device is ever being processed at a time).
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	ioctl   cacheIoctl
}

// cacheIoctl is the seam platform-specific ioctl calls go through, so
// tests can substitute a fake.
type cacheIoctl interface {
	GetWriteCache(path string) (bool, error)
	SetWriteCache(path string, enabled bool) error
	FlushCache(path string) error
}

// NewTable builds a Table bound to the host's real block-device ioctls.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry), ioctl: platformIoctl{}}
}

// Disable flushes and disables dev's write cache if this is the first
// reference to it; further calls just bump the ref count. Errors are
// reported but are never fatal to the caller's wiping operation.
func (t *Table) Disable(dev string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[dev]
	if e == nil {
		e = &entry{}
		t.entries[dev] = e
	}
	e.refs++
	if e.refs > 1 {
		return nil
	}

	if err := t.ioctl.FlushCache(dev); err != nil {
		return err
	}
	was, err := t.ioctl.GetWriteCache(dev)
	if err != nil {
		return err
	}
	e.wasEnabled = was
	e.everChecked = true
	if !was {
		return nil
	}
	return t.ioctl.SetWriteCache(dev, false)
}

// Enable decrements dev's reference count and, once it reaches zero,
// restores the write cache to its original state if it was on.
func (t *Table) Enable(dev string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[dev]
	if e == nil {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(t.entries, dev)
	if !e.everChecked || !e.wasEnabled {
		return nil
	}
	return t.ioctl.SetWriteCache(dev, true)
}
