// Package progress implements the Progress/Signal Bus (component C5):
// a cooperative cancellation flag every backend loop checks, and
// idempotent per-phase percent reporting.
package progress

import "sync/atomic"

// Phase names the three operations a backend reports progress for.
type Phase int

const (
	Unrm Phase = iota
	Part
	Wfs
)

func (p Phase) String() string {
	switch p {
	case Unrm:
		return "unrm"
	case Part:
		return "part"
	case Wfs:
		return "wfs"
	default:
		return "?"
	}
}

// Signal holds the cooperative cancellation flag. The zero value is
// ready to use and starts unset. A single Signal is shared by every
// backend operation in the process; the root main package wires
// os/signal to it once at startup.
type Signal struct {
	recvd atomic.Int32
}

// Raise records signum as received. Safe to call from a signal handler:
// it only performs an atomic store.
func (s *Signal) Raise(signum int) { s.recvd.Store(int32(signum)) }

// Received reports the signal number last raised, or 0 if none.
func (s *Signal) Received() int { return int(s.recvd.Load()) }

// Cancelled is the check every backend loop makes at each outer
// iteration and each pass boundary.
func (s *Signal) Cancelled() bool { return s.recvd.Load() != 0 }

// Reset clears the flag; used only by tests (the subprocess isolation
// child builds a fresh Signal instead).
func (s *Signal) Reset() { s.recvd.Store(0) }

// Reporter emits per-phase percent-complete notifications. ShowProgress
// is idempotent: the first call for a phase always emits, and later calls
// emit only when percent has increased since the last emitted value,
// matching the "emits only increments" contract.
type Reporter struct {
	Emit func(phase Phase, percent int)

	last [3]atomic.Int32 // last emitted percent + 1; 0 means none yet
}

// ShowProgress reports percent (0-100) for phase, skipping the call if
// percent has not increased since the last report for that phase.
func (r *Reporter) ShowProgress(phase Phase, percent int) {
	if r == nil || r.Emit == nil {
		return
	}
	slot := &r.last[phase]
	next := int32(percent) + 1
	for {
		prev := slot.Load()
		if next <= prev {
			return
		}
		if slot.CompareAndSwap(prev, next) {
			r.Emit(phase, percent)
			return
		}
	}
}
