// client.go provides a client for the privileged helper.
// The client starts the helper with one end of a socketpair as its stdin,
// waits for the hello token and then issues requests over the other end.
package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/doughall/auditview/internal/sanitize"
	"github.com/doughall/auditview/internal/transport"
)

var (
	// ErrNotAvailable is returned when the helper exits before sending the
	// hello token, typically because it could not be executed.
	ErrNotAvailable = errors.New("helper not available")

	// ErrBadHello is returned when the first value from the helper is not Hello.
	ErrBadHello = errors.New("unexpected hello from helper")

	// ErrInvalidName is returned for names the helper would reject. Sending
	// one would terminate the helper.
	ErrInvalidName = errors.New("invalid file name")
)

// ErrnoError is a failure reported by the helper for a single ReadFile
// request. The connection stays usable.
type ErrnoError struct {
	Name  string
	Errno syscall.Errno
}

func (e *ErrnoError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Name, e.Errno)
}

// Unwrap lets errors.Is match fs.ErrNotExist and friends.
func (e *ErrnoError) Unwrap() error {
	return e.Errno
}

// Client talks to one helper session.
type Client struct {
	rwc  io.ReadWriteCloser
	conn *transport.Conn
	cmd  *exec.Cmd
}

// Start runs the helper at path and returns a client connected to it.
func Start(ctx context.Context, path string, args ...string) (*Client, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "auditview-parent")
	childFile := os.NewFile(uintptr(fds[1]), "auditview-child")

	parentConn, err := net.FileConn(parentFile)
	parentFile.Close() // FileConn dups the fd
	if err != nil {
		childFile.Close()
		return nil, fmt.Errorf("failed to wrap socket: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = childFile
	cmd.Stderr = os.Stderr
	err = cmd.Start()
	// Only the helper may hold the child end, or a helper that dies before
	// the hello would never produce end of stream.
	childFile.Close()
	if err != nil {
		parentConn.Close()
		return nil, fmt.Errorf("%w: %w", ErrNotAvailable, err)
	}

	c := &Client{rwc: parentConn, conn: transport.NewConn(parentConn), cmd: cmd}
	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NewConnClient runs the protocol over an already connected stream.
func NewConnClient(rwc io.ReadWriteCloser) (*Client, error) {
	c := &Client{rwc: rwc, conn: transport.NewConn(rwc)}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	var buf [4]byte
	n, err := transport.ReadExact(c.rwc, buf[:])
	if err != nil {
		return fmt.Errorf("failed to read hello: %w", err)
	}
	if n != len(buf) {
		return ErrNotAvailable
	}
	if v := transport.ByteOrder.Uint32(buf[:]); v != Hello {
		return fmt.Errorf("%w: %#x", ErrBadHello, v)
	}
	return nil
}

// ListFiles returns the names of the files in the protected directory.
func (c *Client) ListFiles() ([]string, error) {
	if err := c.conn.WriteUint32(uint32(CommandListFiles)); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	var names []string
	for {
		n, err := c.conn.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("failed to read listing: %w", err)
		}
		if n == 0 {
			return names, nil
		}
		if uint64(n) > math.MaxInt {
			return nil, fmt.Errorf("name length %d too large", n)
		}
		name, err := c.conn.ReadBytes(int(n))
		if err != nil {
			return nil, fmt.Errorf("failed to read listing: %w", err)
		}
		names = append(names, string(name))
	}
}

// ReadFile returns the contents of name. A failure reported by the helper
// is returned as *ErrnoError.
func (c *Client) ReadFile(name string) ([]byte, error) {
	if _, err := sanitize.Path("", []byte(name), sanitize.DefaultNameMax); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidName, name, err)
	}

	req := make([]byte, 8, 8+len(name))
	transport.ByteOrder.PutUint32(req[0:4], uint32(CommandReadFile))
	transport.ByteOrder.PutUint32(req[4:8], uint32(len(name)))
	req = append(req, name...)
	if err := c.conn.WriteBytes(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	code, err := c.conn.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if code != 0 {
		return nil, &ErrnoError{Name: name, Errno: syscall.Errno(code)}
	}
	size, err := c.conn.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if size > math.MaxInt {
		return nil, fmt.Errorf("file %s too large: %d bytes", name, size)
	}
	data, err := c.conn.ReadBytes(int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	return data, nil
}

// Close ends the session. If the client started the helper, Close waits for
// it and returns an error if it did not exit successfully.
func (c *Client) Close() error {
	err := c.rwc.Close()
	if c.cmd == nil {
		return err
	}
	if werr := c.cmd.Wait(); werr != nil {
		return fmt.Errorf("helper exited: %w", werr)
	}
	return err
}
