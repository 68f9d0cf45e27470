// Package backend defines the Filesystem Backend Contract (component
// C6) every per-family implementation satisfies, plus the handle type
// and configuration the Dispatcher threads through it.
package backend

import (
	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/blockio"
	"github.com/elliotnunn/wipefreespace/internal/pattern"
	"github.com/elliotnunn/wipefreespace/internal/progress"
)

// EffectivePasses resolves Cfg.Passes to the pass count backends must
// actually write and the Dispatcher's Selector must actually cover: per
// §3, "If N=0 the method's natural length is used," so a zero Passes
// falls back to the method's DefaultPasses rather than a single pass.
// Backends and the Selector must agree on this value, so both call this
// function instead of each picking their own fallback.
func EffectivePasses(cfg Config) uint64 {
	if cfg.Passes > 0 {
		return cfg.Passes
	}
	return uint64(pattern.DefaultPasses(cfg.Method))
}

// ID names one supported filesystem family.
type ID int

const (
	Unknown ID = iota
	Ext
	NTFS
	Reiser4
	XFS
	JFS
	FAT
	MinixFS
	ReiserV3
	HFSPlus
	OCFS2
)

func (id ID) String() string {
	switch id {
	case Ext:
		return "ext2/3/4"
	case NTFS:
		return "ntfs"
	case Reiser4:
		return "reiser4"
	case XFS:
		return "xfs"
	case JFS:
		return "jfs"
	case FAT:
		return "fat"
	case MinixFS:
		return "minixfs"
	case ReiserV3:
		return "reiserfs"
	case HFSPlus:
		return "hfs+"
	case OCFS2:
		return "ocfs2"
	default:
		return "unknown"
	}
}

// Probe order fixed by the dispatcher; most-specific magic first.
var ProbeOrder = []ID{Ext, NTFS, Reiser4, XFS, JFS, FAT, MinixFS, ReiserV3, HFSPlus, OCFS2}

// Config bundles the session-wide options that apply uniformly across
// backends: pass count, pattern method, phase toggles, and the wiping
// mode. It is built once by the root main package from CLI flags.
type Config struct {
	Passes         uint64
	Method         pattern.Method
	AllZeros       bool
	LastZero       bool
	SkipZeroBlocks bool
	Mode           blockio.Mode
	SuperblockOff  int64 // carried from the CLI; no backend reads it
	BlockSize      int64 // carried from the CLI; no backend reads it
	Force          bool  // proceed even if check_err is true
	NoUnrm         bool
	NoPart         bool
	NoWfs          bool
	UseDedicated   bool // carried from the CLI; no backend reads it
}

// Handle is owned by the Dispatcher for the lifetime of one device. It
// bundles the open Device, the active backend's id, and everything a
// backend operation needs to do its work; backend-private state lives
// behind the Contract implementation itself, never here.
type Handle struct {
	DevicePath string
	Dev        blockdev.Device
	Which      ID
	Cfg        Config
	Sig        *progress.Signal
	Report     *progress.Reporter
	Selector   *pattern.Selector
}

// Contract is the uniform interface every per-family backend implements.
// Probe-then-Open is split so the Dispatcher can try backends in order
// without committing to one until its signature matches.
type Contract interface {
	// Probe reports whether h.Dev looks like this backend's filesystem,
	// reading only a small header region.
	Probe(h *Handle) (bool, error)

	Open(h *Handle) error
	Close(h *Handle) error

	WipeUnrm(h *Handle) error
	WipePart(h *Handle) error
	WipeFs(h *Handle) error

	CheckErr(h *Handle) bool
	IsDirty(h *Handle) bool
	Flush(h *Handle) error

	// ID identifies the backend for logging and for fixed-order probing.
	ID() ID
}
