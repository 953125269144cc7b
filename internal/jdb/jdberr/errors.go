// Package jdberr defines the error taxonomy surfaced by the jdb storage engine.
package jdberr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code classifies an error into one of the engine's fixed kinds.
type Code int

const (
	// Io is an underlying storage/OS error, generally retryable by the caller.
	Io Code = iota
	// Alignment is a programmer error: a buffer or offset was not page-aligned.
	Alignment
	// Corrupt covers CRC mismatch, bad magic, or an impossible flag combination.
	Corrupt
	// Locked means an exclusive lock was unavailable.
	Locked
	// OutOfSpace means preallocate or write returned ENOSPC.
	OutOfSpace
	// InvalidArgument covers a key/value exceeding a configured hard limit, or a nonsensical Pos.
	InvalidArgument
	// Missing means a referenced segment or external-file was not found.
	Missing
)

func (c Code) String() string {
	switch c {
	case Io:
		return "Io"
	case Alignment:
		return "Alignment"
	case Corrupt:
		return "Corrupt"
	case Locked:
		return "Locked"
	case OutOfSpace:
		return "OutOfSpace"
	case InvalidArgument:
		return "InvalidArgument"
	case Missing:
		return "Missing"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the engine's concrete error type: a Code plus context and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Op      string // operation that failed, e.g. "wal.append"
	Path    string // file/segment path, if applicable
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("jdb: %s: %s", e.Code, e.Op)
	if e.Path != "" {
		msg += fmt.Sprintf(" path=%s", e.Path)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and operation name.
func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

// WithPath attaches the file path involved in the failure.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithDetail attaches a free-form explanation.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Wrap classifies a raw OS/syscall error into an *Error of the appropriate
// Code, following the same errno-inspection approach as a typical storage
// layer's I/O error classification: ENOSPC becomes OutOfSpace, ENOENT
// becomes Missing, EROFS/permission errors become Io (the filesystem itself
// is unusable, not a programmer mistake), everything else stays Io.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOSPC:
			return New(OutOfSpace, op).WithCause(err)
		case syscall.ENOENT:
			return New(Missing, op).WithCause(err)
		case syscall.EROFS, syscall.EACCES, syscall.EPERM, syscall.EIO:
			return New(Io, op).WithCause(err)
		}
	}
	return New(Io, op).WithCause(err)
}

// Is reports whether err is a *Error with the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
