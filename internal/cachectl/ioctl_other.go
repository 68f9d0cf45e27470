//go:build !linux

package cachectl

import "fmt"

type platformIoctl struct{}

func (platformIoctl) GetWriteCache(path string) (bool, error) {
	return false, fmt.Errorf("cachectl: unsupported on this platform")
}

func (platformIoctl) SetWriteCache(path string, enabled bool) error {
	return fmt.Errorf("cachectl: unsupported on this platform")
}

func (platformIoctl) FlushCache(path string) error {
	return fmt.Errorf("cachectl: unsupported on this platform")
}
