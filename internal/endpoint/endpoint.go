// Package endpoint obtains and checks the single connection the helper
// serves.
//
// The launcher hands the helper one end of a connected Unix stream socket,
// either on stdin (the viewer's socketpair) or as a systemd socket-activated
// descriptor. The helper refuses to speak on anything that is not a stream
// socket.
package endpoint

import (
	"errors"
	"fmt"
	"os"

	"github.com/coreos/go-systemd/v22/activation"
	"golang.org/x/sys/unix"
)

// Connection sources accepted by Open.
const (
	SourceStdin   = "stdin"
	SourceSystemd = "systemd"
)

var (
	// ErrNotSocket is returned when the descriptor is not a socket.
	ErrNotSocket = errors.New("the control file is not a socket")

	// ErrNotStream is returned for datagram or seqpacket sockets.
	ErrNotStream = errors.New("the control socket is not a stream socket")

	// ErrActivation is returned when systemd did not pass exactly one descriptor.
	ErrActivation = errors.New("expected exactly one socket-activated descriptor")

	// ErrUnknownSource is returned for an unsupported connection source.
	ErrUnknownSource = errors.New("unknown connection source")
)

// Open returns the connection for source without checking it.
func Open(source string) (*os.File, error) {
	switch source {
	case SourceStdin, "":
		return os.Stdin, nil
	case SourceSystemd:
		files := activation.Files(true)
		if len(files) != 1 {
			for _, f := range files {
				f.Close()
			}
			return nil, fmt.Errorf("%w: got %d", ErrActivation, len(files))
		}
		return files[0], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// Verify checks that f is a stream socket.
func Verify(f *os.File) error {
	var st unix.Stat_t
	var sockType int
	var opErr error

	err := control(f, func(fd int) {
		if opErr = unix.Fstat(fd, &st); opErr != nil {
			opErr = fmt.Errorf("fstat %s: %w", f.Name(), opErr)
			return
		}
		if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
			opErr = ErrNotSocket
			return
		}
		sockType, opErr = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
		if opErr != nil {
			opErr = fmt.Errorf("getsockopt SO_TYPE: %w", opErr)
			return
		}
		if sockType != unix.SOCK_STREAM {
			opErr = fmt.Errorf("%w: type %d", ErrNotStream, sockType)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// PeerCredentials returns the credentials of the process on the other end
// of the socket. They are informational only; the helper trusts whoever
// handed it the connection.
func PeerCredentials(f *os.File) (*unix.Ucred, error) {
	var cred *unix.Ucred
	var opErr error
	err := control(f, func(fd int) {
		cred, opErr = unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, fmt.Errorf("failed to get peer credentials: %w", opErr)
	}
	return cred, nil
}

// Harden disables core dumps so buffered file contents cannot end up in a
// core file readable by someone else.
func Harden() error {
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return fmt.Errorf("failed to disable core dumps: %w", err)
	}
	return nil
}

func control(f *os.File, fn func(fd int)) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return fmt.Errorf("access %s: %w", f.Name(), err)
	}
	return rc.Control(func(fd uintptr) { fn(int(fd)) })
}
