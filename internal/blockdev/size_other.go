//go:build !linux

package blockdev

import (
	"fmt"
	"os"
)

func blockDeviceSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("blockdev: device size query unsupported on this platform for %s", f.Name())
}
