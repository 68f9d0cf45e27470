package blockdev

import "os"

// rawDevice wraps a plain block device node or regular file: virtual
// offsets are host offsets, one-to-one.
type rawDevice struct {
	f    *os.File
	path string
}

func (d *rawDevice) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *rawDevice) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *rawDevice) Flush() error                             { return d.f.Sync() }
func (d *rawDevice) Close() error                             { return d.f.Close() }
func (d *rawDevice) Path() string                             { return d.path }

func (d *rawDevice) Size() (int64, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeDevice != 0 {
		return blockDeviceSize(d.f)
	}
	return info.Size(), nil
}
