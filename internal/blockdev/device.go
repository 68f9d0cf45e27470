// Package blockdev abstracts the storage a backend writes blocks to: a
// plain block device/regular file, or a QCOW2 disk image addressed by
// virtual byte offset.
package blockdev

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Device is the minimal byte-addressable target the block I/O layer and
// every backend read their native structures through. All offsets are
// virtual (guest) byte offsets; a qcow2-backed Device translates them to
// host file offsets internally.
type Device interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the virtual size of the device in bytes.
	Size() (int64, error)
	// Flush forces pending writes to stable storage.
	Flush() error
	Close() error
	// Path is the device path or image path this Device was opened from,
	// used for mount-checking and cache-control keying.
	Path() string
}

// Open opens path as a raw device/file, unless its header identifies it
// as a QCOW2 image, in which case it is opened through the QCOW2
// translation layer. O_EXCL is used to honor the "opened exclusively"
// shared-resource policy.
func Open(path string, write bool) (Device, error) {
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	flag |= os.O_EXCL
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err == nil && bytes.Equal(magic[:], qcowMagic) {
		dev, err := newQCOW2Device(f, path)
		if err != nil {
			f.Close()
			return nil, err
		}
		return dev, nil
	}

	return &rawDevice{f: f, path: path}, nil
}

// IsNotExist mirrors os.IsNotExist for callers that only hold a Device
// error, not the *os.PathError.
func IsNotExist(err error) bool { return errors.Is(err, os.ErrNotExist) }

func formatPath(path string) string {
	if strings.HasPrefix(path, "/dev/") {
		return path
	}
	return fmt.Sprintf("%s (image)", path)
}
