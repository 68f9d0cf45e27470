// Package mountguard implements the Mount Guard (component C3): refusing
// to operate on a device mounted read-write.
package mountguard

import (
	"bufio"
	"os"
	"strings"

	"github.com/elliotnunn/wipefreespace/internal/werr"
)

// State is the tri-state result of CheckMount.
type State int

const (
	Unmounted State = iota
	MountedRo
	MountedRw
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case MountedRo:
		return "mounted read-only"
	case MountedRw:
		return "mounted read-write"
	default:
		return "unknown"
	}
}

const procMounts = "/proc/mounts"

// CheckMount consults /proc/mounts, resolving loop devices to their
// backing file first so a mounted loop-backed image is detected
// correctly, and reports whether devPath is mounted and in what mode.
func CheckMount(devPath string) (State, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return Unmounted, werr.Wrap(werr.MntChk, devPath, err)
	}
	defer f.Close()

	resolved, _ := resolveLoopBacking(devPath)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		mountDev, _, opts := fields[0], fields[1], fields[3]
		match := mountDev == devPath
		if !match && resolved != "" {
			match = mountDev == resolved
		}
		if !match && strings.HasPrefix(mountDev, "/dev/loop") {
			if backing, err := resolveLoopBacking(mountDev); err == nil && backing == devPath {
				match = true
			}
		}
		if !match {
			continue
		}
		if hasOpt(opts, "rw") {
			return MountedRw, nil
		}
		return MountedRo, nil
	}
	if err := sc.Err(); err != nil {
		return Unmounted, werr.Wrap(werr.MntChk, devPath, err)
	}
	return Unmounted, nil
}

func hasOpt(opts, want string) bool {
	for _, o := range strings.Split(opts, ",") {
		if o == want {
			return true
		}
	}
	return false
}

// RefuseIfMountedRw wraps CheckMount, returning a MntRw error for a
// device mounted read-write. The Dispatcher calls CheckMount directly.
func RefuseIfMountedRw(devPath string) error {
	st, err := CheckMount(devPath)
	if err != nil {
		return err
	}
	if st == MountedRw {
		return werr.New(werr.MntRw)
	}
	return nil
}
