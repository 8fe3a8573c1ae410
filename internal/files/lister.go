// lister.go implements the ListFiles operation.
// It streams the names of the protected directory's entries as Name Records
// followed by a zero-length terminator.
package files

import (
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/doughall/auditview/internal/logging"
	"github.com/doughall/auditview/internal/transport"
)

// listBatch is how many directory entries are read per getdents round.
const listBatch = 128

// Lister enumerates a single directory.
type Lister struct {
	dir    string
	logger *slog.Logger
}

// NewLister creates a lister for dir.
func NewLister(dir string, logger *slog.Logger) *Lister {
	return &Lister{
		dir:    dir,
		logger: logging.WithComponent(logger, "lister"),
	}
}

// List writes one Name Record per entry and then the terminator.
//
// Directory errors never reach the client: a directory that cannot be opened
// yields an empty listing, and an enumeration error truncates it. Only
// transport errors are returned.
func (l *Lister) List(c *transport.Conn) error {
	count, skipped := 0, 0

	f, err := os.Open(l.dir)
	if err != nil {
		l.logger.Info("cannot open directory, sending empty listing",
			slog.String("dir", l.dir),
			slog.String("error", err.Error()),
		)
	} else {
		defer f.Close()
		for {
			names, err := f.Readdirnames(listBatch)
			for _, name := range names {
				if name == "." || name == ".." {
					continue
				}
				if uint64(len(name)) > math.MaxUint32 {
					skipped++
					continue
				}
				if err := writeNameRecord(c, name); err != nil {
					return err
				}
				count++
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				l.logger.Warn("directory enumeration failed, listing truncated",
					slog.String("dir", l.dir),
					slog.String("error", err.Error()),
				)
				break
			}
		}
	}

	l.logger.Debug("listed directory",
		slog.Int("entries", count),
		slog.Int("skipped", skipped),
	)

	return c.WriteUint32(0)
}

func writeNameRecord(c *transport.Conn, name string) error {
	if err := c.WriteUint32(uint32(len(name))); err != nil {
		return err
	}
	return c.WriteBytes([]byte(name))
}
