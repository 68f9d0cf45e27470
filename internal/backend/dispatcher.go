package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/exec"
	"time"

	"github.com/elliotnunn/wipefreespace/internal/blockdev"
	"github.com/elliotnunn/wipefreespace/internal/cachectl"
	"github.com/elliotnunn/wipefreespace/internal/journal"
	"github.com/elliotnunn/wipefreespace/internal/mountguard"
	"github.com/elliotnunn/wipefreespace/internal/pattern"
	"github.com/elliotnunn/wipefreespace/internal/progress"
	"github.com/elliotnunn/wipefreespace/internal/werr"
)

// Registry maps an ID to its Contract implementation; built once at
// process start by the root main package and handed to the Dispatcher so
// this package never imports any per-family backend package (which
// would be a cycle: backends import backend for Contract/Handle).
type Registry map[ID]Contract

// isolatedIDs crash-isolate a native-library call into a subprocess, per
// the original's fork/wait wrapping around Reiser3 and Minix.
var isolatedIDs = map[ID]bool{
	ReiserV3: true,
	MinixFS:  true,
}

// Dispatcher drives one or more devices through the fixed probe order
// and phase sequence.
type Dispatcher struct {
	Registry Registry
	Cache    *cachectl.Table
	Sig      *progress.Signal
	Report   *progress.Reporter
	Journal  *journal.Journal // optional
	Resume   bool
	Prog     string // argv[0], for error line formatting

	// SelfExePath and SubprocessArg let the isolated-backend path
	// re-invoke this same binary; tests leave SelfExePath empty so every
	// device runs in process.
	SelfExePath   string
	SubprocessArg string
}

// DeviceResult is the outcome of processing one device.
type DeviceResult struct {
	Device string
	Err    *werr.Error
}

// Run processes devices in order, continuing to the next device after a
// per-device error (per §4.7/§7), and returns one result per device.
func (d *Dispatcher) Run(ctx context.Context, devices []string, cfg Config) []DeviceResult {
	results := make([]DeviceResult, 0, len(devices))
	for _, dev := range devices {
		err := d.runOne(ctx, dev, cfg)
		results = append(results, DeviceResult{Device: dev, Err: asWerr(err)})
		if d.Sig.Cancelled() {
			break
		}
	}
	return results
}

func asWerr(err error) *werr.Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*werr.Error); ok {
		return e
	}
	return werr.Wrap(werr.ExecErr, "", err)
}

func (d *Dispatcher) runOne(ctx context.Context, devPath string, cfg Config) error {
	// Which backend will match is only known after probing, so isolation
	// is an all-or-nothing decision per device: if any registered
	// backend is crash-prone, every device is processed in a child.
	if d.SelfExePath != "" && d.registryHasIsolatedBackend() {
		return d.runIsolated(ctx, devPath, cfg)
	}
	return d.runInProcess(devPath, cfg)
}

func (d *Dispatcher) registryHasIsolatedBackend() bool {
	for id := range d.Registry {
		if isolatedIDs[id] {
			return true
		}
	}
	return false
}

func (d *Dispatcher) runInProcess(devPath string, cfg Config) error {
	slog.Info("deviceStart", "device", devPath)

	if st, err := mountguard.CheckMount(devPath); err != nil {
		return werr.Wrap(werr.MntChk, devPath, err)
	} else if st == mountguard.MountedRw {
		return werr.New(werr.MntRw)
	}

	if d.Cache != nil {
		if err := d.Cache.Disable(devPath); err != nil {
			slog.Warn("cacheDisableFailed", "device", devPath, "err", err)
		}
		defer func() {
			if err := d.Cache.Enable(devPath); err != nil {
				slog.Warn("cacheEnableFailed", "device", devPath, "err", err)
			}
		}()
	}

	dev, err := blockdev.Open(devPath, true)
	if err != nil {
		return werr.Wrap(werr.OpenFs, devPath, err)
	}
	defer dev.Close()

	var chosen Contract
	for _, id := range ProbeOrder {
		c, ok := d.Registry[id]
		if !ok {
			continue
		}
		h := &Handle{DevicePath: devPath, Dev: dev, Which: id, Cfg: cfg}
		matched, err := c.Probe(h)
		if err != nil {
			slog.Warn("probeFailed", "backend", id, "device", devPath, "err", err)
			continue
		}
		if matched {
			chosen = c
			break
		}
	}
	if chosen == nil {
		return werr.Wrap(werr.OpenFs, devPath, fmt.Errorf("no recognized filesystem"))
	}

	h := &Handle{
		DevicePath: devPath,
		Dev:        dev,
		Which:      chosen.ID(),
		Cfg:        cfg,
		Sig:        d.Sig,
		Report:     d.Report,
		Selector:   newSelector(cfg),
	}

	if err := chosen.Open(h); err != nil {
		return err
	}
	defer chosen.Close(h)

	if !cfg.Force && chosen.CheckErr(h) {
		return werr.New(werr.FsHasError)
	}

	if err := chosen.Flush(h); err != nil {
		slog.Warn("flushFailed", "device", devPath, "err", err)
	}

	var firstErr error
	runPhase := func(name string, skip bool, fn func(*Handle) error) {
		if skip {
			return
		}
		if err := fn(h); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("phaseFailed", "phase", name, "device", devPath, "err", err)
		}
		if d.Journal != nil {
			d.Journal.FlushPhase()
		}
	}

	runPhase("unrm", cfg.NoUnrm, chosen.WipeUnrm)
	runPhase("part", cfg.NoPart, chosen.WipePart)
	runPhase("fs", cfg.NoWfs, chosen.WipeFs)

	if err := chosen.Flush(h); err != nil {
		slog.Warn("flushFailed", "device", devPath, "err", err)
	}

	slog.Info("deviceDone", "device", devPath, "backend", chosen.ID())
	return firstErr
}

// newSelector seeds the per-session PRNG from a constant XORed with wall
// clock seconds, matching the original's reproducibility posture.
func newSelector(cfg Config) *pattern.Selector {
	const seedConst = 0x5a17e17_deadbeef
	seed := uint64(seedConst) ^ uint64(time.Now().Unix())
	rng := rand.New(rand.NewPCG(seed, seed>>32|1))
	return pattern.NewSelector(cfg.Method, cfg.AllZeros, EffectivePasses(cfg), rng)
}

// runIsolated re-execs the current binary with SubprocessArg to perform
// one device's wiping inside a child process, so a crash in a
// crash-prone native-equivalent path only poisons that device. The
// parent forwards the cooperative signal by killing the child, and the
// child's exit status becomes the device's werr.Kind.
func (d *Dispatcher) runIsolated(ctx context.Context, devPath string, cfg Config) error {
	cmd := exec.CommandContext(ctx, d.SelfExePath, d.SubprocessArg, devPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return werr.Wrap(werr.ForkErr, devPath, err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return werr.New(werr.Signal)
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			return werr.New(werr.Kind(exitErr.ExitCode()))
		}
		if err != nil {
			return werr.Wrap(werr.ForkErr, devPath, err)
		}
		return nil
	}
}
