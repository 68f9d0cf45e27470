// Package werr defines the flat error taxonomy shared by every backend and
// by the dispatcher. It intentionally has no dependency on any backend
// package so that both can import it without a cycle.
package werr

import (
	"errors"
	"fmt"
)

// Kind is one tag of the flat taxonomy. The zero value is Success.
type Kind int

const (
	Success Kind = iota
	Nothing
	BadCmdln
	MntChk
	MntRw
	OpenFs
	FsClose
	MallocErr
	FsHasError
	BlBitmapRead
	BlkWr
	BlkRd
	InoRead
	InoScan
	BlkIter
	DirIter
	FlushFs
	AttrOpen
	NtfsRunlist
	CtxError
	BadParam
	PipeErr
	ForkErr
	ExecErr
	SeekErr
	Ioctl
	Signal
)

var names = map[Kind]string{
	Success:      "success",
	Nothing:      "nothing",
	BadCmdln:     "bad command line",
	MntChk:       "cannot check mount state",
	MntRw:        "mounted read-write",
	OpenFs:       "backend open failed",
	FsClose:      "backend close failed",
	MallocErr:    "allocation failure",
	FsHasError:   "filesystem has errors",
	BlBitmapRead: "could not load allocation bitmap",
	BlkWr:        "block write failed",
	BlkRd:        "block read failed",
	InoRead:      "inode read failed",
	InoScan:      "inode scan failed",
	BlkIter:      "block iterator failed",
	DirIter:      "directory iterator failed",
	FlushFs:      "flush failed",
	AttrOpen:     "attribute open failed",
	NtfsRunlist:  "runlist walk failed",
	CtxError:     "context error",
	BadParam:     "bad parameter",
	PipeErr:      "pipe error",
	ForkErr:      "fork/subprocess error",
	ExecErr:      "exec failed",
	SeekErr:      "seek failed",
	Ioctl:        "ioctl failed",
	Signal:       "interrupted by signal",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("werr.Kind(%d)", int(k))
}

// Severity orders kinds for picking the process exit status across devices:
// Signal outranks every other error, which outranks Nothing, which outranks
// Success.
func (k Kind) Severity() int {
	switch k {
	case Success:
		return 0
	case Nothing:
		return 1
	case Signal:
		return 3
	default:
		return 2
	}
}

// Error wraps a Kind with backend-specific detail and an optional
// underlying cause. It is the tail-carrying Result<(), ErrorKind> of
// the design notes.
type Error struct {
	Kind    Kind
	Device  string // device path, if known
	Context string // e.g. a path, inode number, block number
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Context != "" {
		return fmt.Sprintf("(err %d) %s '%s'", int(e.Kind), msg, e.Context)
	}
	return fmt.Sprintf("(err %d) %s", int(e.Kind), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for kind k with no further detail.
func New(k Kind) *Error { return &Error{Kind: k} }

// Wrap builds an *Error for kind k, wrapping cause and carrying context.
func Wrap(k Kind, context string, cause error) *Error {
	return &Error{Kind: k, Context: context, Err: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise returns Success, false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Success, false
}

// Line renders the single-line user-visible failure message described in
// the error handling design: "prog:dev: (err N) <message> '<context>', FS='<dev>'".
func Line(prog, dev string, err *Error) string {
	fs := dev
	if err.Device != "" {
		fs = err.Device
	}
	return fmt.Sprintf("%s:%s: %s, FS='%s'", prog, dev, err.Error(), fs)
}
