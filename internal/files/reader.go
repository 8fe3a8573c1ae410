// reader.go implements the ReadFile operation.
// The whole file is read into memory before the status code is sent, because
// once a zero status goes out nothing may fail for the rest of the reply.
package files

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"syscall"

	"github.com/doughall/auditview/internal/logging"
	"github.com/doughall/auditview/internal/sanitize"
	"github.com/doughall/auditview/internal/transport"
)

// Reader serves regular files from a single directory.
type Reader struct {
	dir         string
	nameMax     int
	maxFileSize int64
	logger      *slog.Logger
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// NameMax is the longest name accepted from the client.
	// Zero means sanitize.DefaultNameMax.
	NameMax int

	// MaxFileSize rejects larger files with EFBIG. Zero means no limit
	// beyond what can be addressed in memory.
	MaxFileSize int64
}

// NewReader creates a reader for dir.
func NewReader(dir string, opts ReaderOptions, logger *slog.Logger) *Reader {
	nameMax := opts.NameMax
	if nameMax <= 0 || nameMax > sanitize.DefaultNameMax {
		nameMax = sanitize.DefaultNameMax
	}
	return &Reader{
		dir:         dir,
		nameMax:     nameMax,
		maxFileSize: opts.MaxFileSize,
		logger:      logging.WithComponent(logger, "reader"),
	}
}

// Serve reads a ReadFile payload from c and writes the reply.
//
// A returned error is fatal to the session: it is either a transport error
// or a malformed or rejected name, and no reply has been written for it.
// File system failures are reported to the client and return nil.
func (r *Reader) Serve(c *transport.Conn) error {
	name, err := r.readName(c)
	if err != nil {
		return err
	}

	path, err := sanitize.Path(r.dir, name, r.nameMax)
	if err != nil {
		return fmt.Errorf("invalid file name %q: %w", name, err)
	}

	r.logger.Debug("read file requested", slog.String("path", path))

	data, rerr := r.load(path)
	if rerr != nil {
		r.logger.Info("read file failed",
			slog.String("path", path),
			slog.String("kind", rerr.Kind.String()),
			slog.String("error", rerr.Error()),
		)
		return c.WriteUint32(rerr.Code())
	}

	if err := c.WriteUint32(0); err != nil {
		return err
	}
	if err := c.WriteUint64(uint64(len(data))); err != nil {
		return err
	}
	if err := c.WriteBytes(data); err != nil {
		return err
	}

	r.logger.Debug("read file served",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// readName reads the length-prefixed name. The declared length is checked
// before anything is allocated.
func (r *Reader) readName(c *transport.Conn) ([]byte, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read name length: %w", err)
	}
	if n > uint32(r.nameMax) {
		return nil, fmt.Errorf("name length %d: %w", n, sanitize.ErrNameTooLong)
	}
	name, err := c.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	return name, nil
}

// load opens, checks and fully reads path.
//
// The path is not re-checked between the stat and the read, so a symlink
// swapped in between is followed.
func (r *Reader) load(path string) ([]byte, *ReadError) {
	// O_NONBLOCK keeps a FIFO from stalling the open; it has no effect on
	// regular files.
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, osError("open", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, osError("stat", err)
	}
	if !st.Mode().IsRegular() {
		return nil, &ReadError{Kind: KindNotRegular, Op: "stat"}
	}

	size := st.Size()
	if size > int64(math.MaxInt) || (r.maxFileSize > 0 && size > r.maxFileSize) {
		return nil, &ReadError{Kind: KindTooLarge, Op: "stat"}
	}

	buf := make([]byte, size)
	// The file may have changed size since the stat; the read's own count
	// is what gets sent.
	n, err := transport.ReadExact(f, buf)
	if err != nil {
		return nil, osError("read", err)
	}
	return buf[:n], nil
}
