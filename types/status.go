package types

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Status is the result of one dispatch as seen by the native caller.
// Zero or positive is success, negative is failure. Failures use negative
// errno values like the storage daemon does.
type Status int32

const StatusOK Status = 0

// Failure statuses used by the bridge and the native doubles.
var (
	StatusIO          = errnoStatus(unix.EIO)
	StatusNotFound    = errnoStatus(unix.ENOENT)
	StatusExists      = errnoStatus(unix.EEXIST)
	StatusInvalid     = errnoStatus(unix.EINVAL)
	StatusRange       = errnoStatus(unix.ERANGE)
	StatusStale       = errnoStatus(unix.ESTALE)
	StatusBadHandle   = errnoStatus(unix.EBADF)
	StatusReadOnly    = errnoStatus(unix.EROFS)
	StatusPermission  = errnoStatus(unix.EPERM)
	StatusTooBig      = errnoStatus(unix.EFBIG)
	StatusUnsupported = errnoStatus(unix.EOPNOTSUPP)
)

func errnoStatus(e unix.Errno) Status {
	return -Status(e)
}

// StatusFromErrno converts a (positive) errno into a failure Status.
func StatusFromErrno(e unix.Errno) Status {
	return errnoStatus(e)
}

// OK reports whether s is a success status.
func (s Status) OK() bool { return s >= 0 }

// Errno returns the errno for a failure status, or 0 for success.
func (s Status) Errno() unix.Errno {
	if s >= 0 {
		return 0
	}
	return unix.Errno(-s)
}

func (s Status) String() string {
	if s >= 0 {
		return fmt.Sprintf("ok(%d)", int32(s))
	}
	return fmt.Sprintf("%d (%s)", int32(s), unix.ErrnoName(s.Errno()))
}

// MethodFlags describe what a registered method may do to the stored object.
type MethodFlags uint8

const (
	MethodRead MethodFlags = 1 << iota
	MethodWrite
)

// Has reports whether all bits of other are set in f.
func (f MethodFlags) Has(other MethodFlags) bool { return f&other == other }

func (f MethodFlags) String() string {
	switch f {
	case MethodRead:
		return "rd"
	case MethodWrite:
		return "wr"
	case MethodRead | MethodWrite:
		return "rd|wr"
	default:
		return fmt.Sprintf("flags(%d)", uint8(f))
	}
}

// Native log levels. Lower is more important; 0 is always logged.
const (
	LogLevelError = 0
	LogLevelInfo  = 5
	LogLevelDebug = 20
)
