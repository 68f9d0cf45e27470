// wipefreespace securely overwrites unused space, file slack, and
// deleted-entry remnants on a filesystem image or block device.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/pflag"

	"github.com/elliotnunn/wipefreespace/internal/backend"
	"github.com/elliotnunn/wipefreespace/internal/backend/ext"
	"github.com/elliotnunn/wipefreespace/internal/backend/fat"
	"github.com/elliotnunn/wipefreespace/internal/backend/hfsplus"
	"github.com/elliotnunn/wipefreespace/internal/backend/jfs"
	"github.com/elliotnunn/wipefreespace/internal/backend/minixfs"
	"github.com/elliotnunn/wipefreespace/internal/backend/ntfs"
	"github.com/elliotnunn/wipefreespace/internal/backend/ocfs2"
	"github.com/elliotnunn/wipefreespace/internal/backend/reiser4"
	"github.com/elliotnunn/wipefreespace/internal/backend/reiserfs3"
	"github.com/elliotnunn/wipefreespace/internal/backend/xfsbackend"
	"github.com/elliotnunn/wipefreespace/internal/blockio"
	"github.com/elliotnunn/wipefreespace/internal/cachectl"
	"github.com/elliotnunn/wipefreespace/internal/journal"
	"github.com/elliotnunn/wipefreespace/internal/pattern"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

const version = "1.0.0"

// internalWipeOneFlag is the hidden re-entry point the Dispatcher's
// subprocess-isolation path invokes; because the registry includes
// Reiser3 and Minix, every device goes through it.
const internalWipeOneFlag = "--internal-wipe-one"

func main() {
	if len(os.Args) >= 3 && os.Args[1] == internalWipeOneFlag {
		os.Exit(runIsolatedChild(os.Args[2]))
	}
	os.Exit(run(os.Args[1:]))
}

type options struct {
	iterations      uint64
	method          string
	allZeros        bool
	lastZero        bool
	noWipeZeroBlock bool
	noPart          bool
	noUnrm          bool
	noWfs           bool
	force           bool
	superblock      int64
	blockSize       int64
	useIoctl        bool
	useDedicated    bool
	background      bool
	resume          bool
	journalDir      string
	noJournal       bool
	verbose         int
	showVersion     bool
	showLicense     bool
}

func run(args []string) int {
	fs := pflag.NewFlagSet("wipefreespace", pflag.ContinueOnError)
	var o options
	fs.Uint64VarP(&o.iterations, "iterations", "n", 0, "number of passes (0 = method default)")
	fs.StringVar(&o.method, "method", "gutmann", "pattern method: gutmann|random|schneier|dod")
	fs.BoolVar(&o.allZeros, "all-zeros", false, "use only zeros instead of patterns")
	fs.BoolVar(&o.lastZero, "last-zero", false, "make the last pass all-zero")
	fs.BoolVar(&o.noWipeZeroBlock, "no-wipe-zero-blocks", false, "skip blocks already observed as zero")
	fs.BoolVar(&o.noPart, "nopart", false, "skip wipe_part")
	fs.BoolVar(&o.noUnrm, "nounrm", false, "skip wipe_unrm")
	fs.BoolVar(&o.noWfs, "nowfs", false, "skip wipe_fs")
	fs.BoolVarP(&o.force, "force", "f", false, "continue even if check_err reports filesystem errors")
	fs.Int64VarP(&o.superblock, "superblock", "b", 0, "superblock offset (accepted; backends always read the superblock at its standard location)")
	fs.Int64VarP(&o.blockSize, "blocksize", "B", 0, "block size (accepted; backends always use the size read from the filesystem)")
	fs.BoolVar(&o.useIoctl, "use-ioctl", false, "disable the device write cache while wiping (block-device ioctls); also selects block-major flushing")
	fs.BoolVar(&o.useDedicated, "use-dedicated", false, "accepted; does not change how any backend works (XFS always uses the xfsprogs tools)")
	fs.BoolVar(&o.background, "background", false, "detach progress reporting from the controlling terminal")
	fs.BoolVar(&o.resume, "resume", false, "accepted; no backend consults the journal, so no work is skipped")
	fs.StringVar(&o.journalDir, "journal-dir", defaultJournalDir(), "directory for the resume journal")
	fs.BoolVar(&o.noJournal, "no-journal", false, "disable the resume journal entirely")
	fs.CountVarP(&o.verbose, "verbose", "v", "increase verbosity (repeatable)")
	fs.BoolVarP(&o.showVersion, "version", "V", false, "print version and exit")
	fs.BoolVar(&o.showLicense, "license", false, "print license and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if o.showVersion {
		fmt.Println("wipefreespace", version)
		return 0
	}
	if o.showLicense {
		fmt.Println("wipefreespace is distributed under the GNU General Public License v3 or later.")
		return 0
	}

	level := slog.LevelWarn
	switch {
	case o.verbose >= 2:
		level = slog.LevelDebug
	case o.verbose == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	devices, err := expandDevices(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "wipefreespace:", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "wipefreespace: no devices given")
		return 1
	}

	cfg := backend.Config{
		Passes:         o.iterations,
		Method:         pattern.ParseMethod(o.method),
		AllZeros:       o.allZeros,
		LastZero:       o.lastZero,
		SkipZeroBlocks: o.noWipeZeroBlock,
		Mode:           wipeMode(o.useIoctl),
		SuperblockOff:  o.superblock,
		BlockSize:      o.blockSize,
		Force:          o.force,
		NoUnrm:         o.noUnrm,
		NoPart:         o.noPart,
		NoWfs:          o.noWfs,
		UseDedicated:   o.useDedicated,
	}

	sig := &progress.Signal{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyCh := make(chan os.Signal, 1)
	signal.Notify(notifyCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for s := range notifyCh {
			if n, ok := s.(syscall.Signal); ok {
				sig.Raise(int(n))
				cancel() // makes runIsolated kill a running child
			}
		}
	}()

	reporter := &progress.Reporter{
		Emit: func(phase progress.Phase, percent int) {
			if !o.background {
				fmt.Fprintf(os.Stderr, "%s: %d%%\n", phase, percent)
			}
		},
	}

	var jrn *journal.Journal
	if !o.noJournal {
		j, err := journal.Open(o.journalDir)
		if err != nil {
			slog.Warn("journalOpenFailed", "err", err)
		} else {
			jrn = j
			defer jrn.Close()
		}
	}

	selfExe, err := os.Executable()
	if err != nil {
		selfExe = ""
	}

	var cache *cachectl.Table
	if o.useIoctl {
		cache = cachectl.NewTable()
	}

	d := &backend.Dispatcher{
		Registry:      buildRegistry(),
		Cache:         cache,
		Sig:           sig,
		Report:        reporter,
		Journal:       jrn,
		Resume:        o.resume,
		SelfExePath:   selfExe,
		SubprocessArg: internalWipeOneFlag,
	}

	results := d.Run(ctx, devices, cfg)

	worst := werr.Success
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		fmt.Fprintln(os.Stderr, werr.Line("wipefreespace", r.Device, r.Err))
		if r.Err.Kind.Severity() > worst.Severity() {
			worst = r.Err.Kind
		}
	}
	return int(worst)
}

// runIsolatedChild is the hidden re-entry point the parent re-execs
// into: it wipes exactly one device (of any backend; isolation exists
// for the crash-prone Reiser3 and Minix paths) and maps the outcome to
// an exit status the parent's runIsolated reads back via cmd.Wait.
func runIsolatedChild(devPath string) int {
	sig := &progress.Signal{}
	d := &backend.Dispatcher{Registry: buildRegistry(), Sig: sig}
	results := d.Run(context.Background(), []string{devPath}, backend.Config{Passes: 0, Method: pattern.Gutmann})
	if len(results) == 1 && results[0].Err != nil {
		return int(results[0].Err.Kind)
	}
	return 0
}

func buildRegistry() backend.Registry {
	return backend.Registry{
		backend.Ext:      ext.New(),
		backend.NTFS:     ntfs.New(),
		backend.Reiser4:  reiser4.New(),
		backend.XFS:      xfsbackend.New(),
		backend.JFS:      jfs.New(),
		backend.FAT:      fat.New(),
		backend.MinixFS:  minixfs.New(),
		backend.ReiserV3: reiserfs3.New(),
		backend.HFSPlus:  hfsplus.New(),
		backend.OCFS2:    ocfs2.New(),
	}
}

func wipeMode(useIoctl bool) blockio.Mode {
	if useIoctl {
		return blockio.BlockMajor
	}
	return blockio.PatternMajor
}

func defaultJournalDir() string {
	if d := os.Getenv("WFS_JOURNAL_DIR"); d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), "wipefreespace-journal")
}

// expandDevices resolves any glob metacharacters in the device
// arguments (e.g. "/dev/loop*") via doublestar, leaving literal paths
// (the overwhelming common case: "/dev/sdb1") untouched.
func expandDevices(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if !doublestar.ValidatePattern(a) {
			out = append(out, a)
			continue
		}
		matches, err := doublestar.FilepathGlob(a)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", a, err)
		}
		if len(matches) == 0 {
			out = append(out, a)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}
