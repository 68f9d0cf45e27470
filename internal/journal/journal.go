// Package journal implements a durable, resumable ledger of wipe
// progress: which (device, phase, block-range) work has already been
// overwritten, so a run interrupted by a signal or power loss can skip
// redoing work on --resume. It is an optional, purely additive feature:
// nothing in the core wiping engine depends on it being present.
package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Fingerprint identifies one target device across runs: derived from its
// path and size, hashed with xxhash the same way the corpus fingerprints
// file identity.
type Fingerprint uint64

// Fingerprint64 hashes a device's path and size into a stable identifier.
// Two different images of the same size and path collide only if they
// are, for journaling purposes, the same target.
func Fingerprint64(path string, size int64) Fingerprint {
	h := xxhash.New()
	h.WriteString(path)
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(size))
	h.Write(sz[:])
	return Fingerprint(h.Sum64())
}

// Phase mirrors progress.Phase without importing it, to keep journal
// free of a dependency on the signal bus.
type Phase byte

const (
	PhaseUnrm Phase = iota
	PhasePart
	PhaseWfs
)

// Journal durably records completed block ranges, batching commits every
// flushInterval blocks or at a phase boundary.
type Journal struct {
	db       *pebble.DB
	dir      string
	batch    *pebble.Batch
	pending  int
	markerFn string
}

const flushInterval = 4096

// Open opens (creating if necessary) the pebble-backed ledger rooted at
// dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("journal: open pebble store: %w", err)
	}
	j := &Journal{db: db, dir: dir, markerFn: filepath.Join(dir, "current-run")}
	j.batch = db.NewBatch()
	return j, nil
}

func (j *Journal) Close() error {
	if j.pending > 0 {
		if err := j.commit(); err != nil {
			j.db.Close()
			return err
		}
	}
	return j.db.Close()
}

// NewRun allocates a fresh run id for fp and records it as the
// in-progress run so a crash mid-run can be resumed with --resume.
func (j *Journal) NewRun(fp Fingerprint) (uuid.UUID, error) {
	id := uuid.New()
	marker := fmt.Sprintf("%016x %s %d\n", uint64(fp), id.String(), time.Now().Unix())
	if err := atomic.WriteFile(j.markerFn, strings.NewReader(marker)); err != nil {
		return uuid.Nil, fmt.Errorf("journal: write run marker: %w", err)
	}
	return id, nil
}

// key layout: fp(8) | runID(16) | phase(1) | block(8), big-endian so
// range scans over a (fp, run, phase) prefix are contiguous.
func key(fp Fingerprint, run uuid.UUID, phase Phase, block int64) []byte {
	b := make([]byte, 8+16+1+8)
	binary.BigEndian.PutUint64(b[0:8], uint64(fp))
	copy(b[8:24], run[:])
	b[24] = byte(phase)
	binary.BigEndian.PutUint64(b[25:33], uint64(block))
	return b
}

// MarkDone records that block has been fully wiped for (fp, run, phase).
func (j *Journal) MarkDone(fp Fingerprint, run uuid.UUID, phase Phase, block int64) error {
	if err := j.batch.Set(key(fp, run, phase, block), []byte{1}, nil); err != nil {
		return err
	}
	j.pending++
	if j.pending >= flushInterval {
		return j.commit()
	}
	return nil
}

// FlushPhase forces a commit at a phase boundary regardless of the pending
// count, so a resume always restarts at a phase edge rather than mid-batch.
func (j *Journal) FlushPhase() error {
	if j.pending == 0 {
		return nil
	}
	return j.commit()
}

func (j *Journal) commit() error {
	if err := j.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	j.batch = j.db.NewBatch()
	j.pending = 0
	return nil
}

// IsDone reports whether block was already recorded done for (fp, run,
// phase) in a prior, interrupted attempt.
func (j *Journal) IsDone(fp Fingerprint, run uuid.UUID, phase Phase, block int64) (bool, error) {
	v, closer, err := j.db.Get(key(fp, run, phase, block))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return len(v) == 1 && v[0] == 1, nil
}

// LastRun reads back the most recently started run id for resume, or
// uuid.Nil if none was ever recorded.
func (j *Journal) LastRun() (Fingerprint, uuid.UUID, error) {
	b, err := os.ReadFile(j.markerFn)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, uuid.Nil, nil
		}
		return 0, uuid.Nil, err
	}
	var fpHex string
	var runStr string
	var ts int64
	if _, err := fmt.Sscanf(string(b), "%16s %s %d", &fpHex, &runStr, &ts); err != nil {
		return 0, uuid.Nil, fmt.Errorf("journal: corrupt run marker: %w", err)
	}
	var fpv uint64
	if _, err := fmt.Sscanf(fpHex, "%016x", &fpv); err != nil {
		return 0, uuid.Nil, err
	}
	run, err := uuid.Parse(runStr)
	if err != nil {
		return 0, uuid.Nil, err
	}
	return Fingerprint(fpv), run, nil
}
