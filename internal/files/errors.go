// errors.go defines the error kinds a ReadFile request can end with.
// Kinds are mapped to the platform errno only when the reply is serialized.
package files

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorKind classifies why a file could not be served.
type ErrorKind int

const (
	// KindOS is an error reported by the operating system; Errno holds it.
	KindOS ErrorKind = iota
	// KindNotFound means the named file does not exist.
	KindNotFound
	// KindPermission means the helper may not open the file.
	KindPermission
	// KindNotRegular means the name refers to a directory, device, FIFO or socket.
	KindNotRegular
	// KindTooLarge means the file is larger than the helper will buffer.
	KindTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission_denied"
	case KindNotRegular:
		return "not_regular"
	case KindTooLarge:
		return "too_large"
	default:
		return "os_error"
	}
}

// ReadError is an in-band failure of a ReadFile request. The session
// continues after it is reported.
type ReadError struct {
	Kind  ErrorKind
	Errno syscall.Errno
	Op    string
	Err   error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Code returns the wire status for the error.
func (e *ReadError) Code() uint32 {
	switch e.Kind {
	case KindNotRegular:
		return uint32(syscall.EINVAL)
	case KindTooLarge:
		return uint32(syscall.EFBIG)
	}
	if e.Errno != 0 {
		return uint32(e.Errno)
	}
	return uint32(syscall.EIO)
}

// osError classifies an error from the os package.
func osError(op string, err error) *ReadError {
	re := &ReadError{Kind: KindOS, Op: op, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		re.Errno = errno
		switch errno {
		case syscall.ENOENT:
			re.Kind = KindNotFound
		case syscall.EACCES, syscall.EPERM:
			re.Kind = KindPermission
		}
	}
	return re
}
