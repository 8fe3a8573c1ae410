// Package transport provides the guaranteed-complete I/O primitives the
// helper protocol is built on.
//
// ReadExact and WriteExact are the only places that deal with partial
// transfers. Everything that frames protocol data goes through Conn, which
// calls into them, so a short read or write is handled in exactly one place.
//
// The protocol has no resynchronization mechanism. Any error returned from
// this package leaves the stream in an unknown state and callers must end the
// session.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ByteOrder is the wire byte order. The protocol is local between trusted
// peers on the same host, so integers travel in host representation.
var ByteOrder = binary.NativeEndian

var (
	// ErrShortRead is returned when the stream ends before a required field
	// has been read completely.
	ErrShortRead = errors.New("short read")

	// ErrTruncatedCommand is returned by ReadCommand when the stream ends in
	// the middle of a command code.
	ErrTruncatedCommand = errors.New("truncated command code")
)

// ReadExact reads len(buf) bytes from r.
//
// If the stream ends first, it returns the number of bytes actually read and
// a nil error. Only a lower-level I/O error is reported as an error.
func ReadExact(r io.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err == io.EOF {
			return read, nil
		}
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// WriteExact writes all of buf to w, retrying on partial writes.
func WriteExact(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// Conn frames fixed-width protocol fields over a duplex stream.
type Conn struct {
	rw io.ReadWriter
}

// NewConn wraps rw.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// ReadCommand reads the next 4-byte command code.
//
// A clean end of stream before the first byte returns io.EOF. A stream that
// ends after one to three bytes returns ErrTruncatedCommand.
func (c *Conn) ReadCommand() (uint32, error) {
	var buf [4]byte
	n, err := ReadExact(c.rw, buf[:])
	if err != nil {
		return 0, fmt.Errorf("read command: %w", err)
	}
	switch n {
	case 0:
		return 0, io.EOF
	case len(buf):
		return ByteOrder.Uint32(buf[:]), nil
	default:
		return 0, fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedCommand, n, len(buf))
	}
}

// ReadUint32 reads a required 4-byte field.
func (c *Conn) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(buf[:]), nil
}

// ReadUint64 reads a required 8-byte field.
func (c *Conn) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := c.readFull(buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint64(buf[:]), nil
}

// ReadBytes reads exactly n bytes into a newly allocated slice. Callers must
// bound n before calling.
func (c *Conn) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.readFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Conn) readFull(buf []byte) error {
	n, err := ReadExact(c.rw, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrShortRead, n, len(buf))
	}
	return nil
}

// WriteUint32 writes a 4-byte field.
func (c *Conn) WriteUint32(v uint32) error {
	var buf [4]byte
	ByteOrder.PutUint32(buf[:], v)
	return WriteExact(c.rw, buf[:])
}

// WriteUint64 writes an 8-byte field.
func (c *Conn) WriteUint64(v uint64) error {
	var buf [8]byte
	ByteOrder.PutUint64(buf[:], v)
	return WriteExact(c.rw, buf[:])
}

// WriteBytes writes b verbatim.
func (c *Conn) WriteBytes(b []byte) error {
	return WriteExact(c.rw, b)
}
