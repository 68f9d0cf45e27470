//go:build linux

package mountguard

import (
	"bytes"
	"os"

	"golang.org/x/sys/unix"
)

// resolveLoopBacking returns the backing file of a loop device via
// LOOP_GET_STATUS64, or "" if path is not a loop device (or the ioctl
// fails, e.g. the loop device has no file attached).
func resolveLoopBacking(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := unix.IoctlLoopGetStatus64(int(f.Fd()))
	if err != nil {
		return "", err
	}
	name := info.File_name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name), nil
}
