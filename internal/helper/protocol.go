// protocol.go defines the wire protocol between the viewer and the privileged helper.
// All integers travel in host byte order; see transport.ByteOrder.
package helper

import "strconv"

// DefaultServerPath is where packages install the helper binary.
const DefaultServerPath = "/usr/libexec/auditview-server"

// Hello is sent by the helper once, immediately after it starts.
const Hello uint32 = 0x12345678

// Command identifies a request. Each request starts with a 4-byte command code.
type Command uint32

const (
	// CommandListFiles requests the names of the available log files.
	// No payload. Reply: Name Records terminated by a zero length.
	CommandListFiles Command = 1

	// CommandReadFile requests the contents of one log file.
	// Payload: 4-byte name length (at most NAME_MAX) followed by the name.
	// Reply: 4-byte errno (0 for success); on success an 8-byte size and the data.
	CommandReadFile Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandListFiles:
		return "list_files"
	case CommandReadFile:
		return "read_file"
	default:
		return "unknown(" + strconv.FormatUint(uint64(c), 10) + ")"
	}
}
