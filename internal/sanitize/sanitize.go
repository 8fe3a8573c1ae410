// Package sanitize turns untrusted client-supplied file names into paths
// that are confined to the protected directory.
//
// A name is a single path component given as raw bytes with no implied
// encoding. Anything that could address something other than a direct child
// of the directory is rejected; the caller treats every rejection as a
// protocol violation.
package sanitize

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// DefaultNameMax is NAME_MAX on Linux and the hard upper bound for names
// accepted from a client.
const DefaultNameMax = 255

// Rejection reasons returned by Path.
var (
	ErrNameTooLong      = errors.New("name exceeds maximum length")
	ErrNameHasSeparator = errors.New("name contains a path separator")
	ErrNameDotEntry     = errors.New("name is a dot entry")
	ErrNameHasNUL       = errors.New("name contains a NUL byte")
)

// Path validates name and returns dir + "/" + name.
//
// Checks run in order: length against nameMax, path separator, "." and "..",
// embedded NUL. The NUL check is stricter than NUL-terminating the name,
// which would silently truncate it: such a name is rejected outright.
// No existence check is done here.
func Path(dir string, name []byte, nameMax int) (string, error) {
	if len(name) > nameMax {
		return "", fmt.Errorf("%w: %d > %d", ErrNameTooLong, len(name), nameMax)
	}
	if bytes.IndexByte(name, '/') >= 0 {
		return "", ErrNameHasSeparator
	}
	if string(name) == "." || string(name) == ".." {
		return "", ErrNameDotEntry
	}
	// The kernel would stop at the first NUL and silently open a different
	// file than the one named.
	if bytes.IndexByte(name, 0) >= 0 {
		return "", ErrNameHasNUL
	}
	return dir + "/" + string(name), nil
}

// ResolveNameMax returns the file name length limit of the filesystem that
// holds dir, capped at DefaultNameMax. A configured value greater than zero
// takes precedence.
func ResolveNameMax(dir string, configured int) int {
	if configured > 0 {
		return min(configured, DefaultNameMax)
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		slog.Debug("statfs failed, using default name limit",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return DefaultNameMax
	}
	if n := int(st.Namelen); n > 0 && n < DefaultNameMax {
		return n
	}
	return DefaultNameMax
}
