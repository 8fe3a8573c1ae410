// Package server implements the helper's session: the handshake and the
// request loop that dispatches ListFiles and ReadFile.
//
// A session serves exactly one connection. It ends successfully only when the
// client closes its side before sending a command code; every other ending is
// a failure reported as a *SessionError. Serve never exits the process, the
// caller maps the outcome to an exit status.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/doughall/auditview/internal/endpoint"
	"github.com/doughall/auditview/internal/files"
	"github.com/doughall/auditview/internal/helper"
	"github.com/doughall/auditview/internal/logging"
	"github.com/doughall/auditview/internal/transport"
)

// State is a session state.
type State int

const (
	StateHandshake State = iota
	StateAwaitingCommand
	StateDispatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "handshake"
	case StateAwaitingCommand:
		return "awaiting_command"
	case StateDispatching:
		return "dispatching"
	default:
		return "closed"
	}
}

// ErrUnknownCommand is returned for a command code that is neither
// ListFiles nor ReadFile.
var ErrUnknownCommand = errors.New("unknown server request")

// SessionError describes why a session ended with failure.
type SessionError struct {
	// State is where the session was when it failed.
	State State
	// Command is the request being dispatched, if any.
	Command helper.Command
	Err     error
}

func (e *SessionError) Error() string {
	if e.State == StateDispatching {
		return fmt.Sprintf("session failed in %s (%s): %v", e.State, e.Command, e.Err)
	}
	return fmt.Sprintf("session failed in %s: %v", e.State, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Options configures a Server.
type Options struct {
	// Dir is the protected directory.
	Dir string

	// NameMax is the longest file name accepted in a ReadFile request.
	NameMax int

	// MaxFileSize is passed to the file reader; zero means no limit.
	MaxFileSize int64

	// Ready, if set, is called once the hello token has been sent.
	Ready func()
}

// Server runs one session.
type Server struct {
	lister *files.Lister
	reader *files.Reader
	ready  func()
	logger *slog.Logger
}

// New creates a server for the directory in opts.
func New(opts Options, logger *slog.Logger) *Server {
	return &Server{
		lister: files.NewLister(opts.Dir, logger),
		reader: files.NewReader(opts.Dir, files.ReaderOptions{
			NameMax:     opts.NameMax,
			MaxFileSize: opts.MaxFileSize,
		}, logger),
		ready:  opts.Ready,
		logger: logging.WithComponent(logger, "server"),
	}
}

// Run verifies that f is a stream socket and serves the session on it.
func (s *Server) Run(f *os.File) error {
	if err := endpoint.Verify(f); err != nil {
		return &SessionError{State: StateHandshake, Err: err}
	}
	return s.Serve(f)
}

// Serve sends the hello token and processes requests until the client
// closes the connection. It returns nil on a clean end of stream.
func (s *Server) Serve(rw io.ReadWriter) error {
	c := transport.NewConn(rw)

	if err := c.WriteUint32(helper.Hello); err != nil {
		return &SessionError{State: StateHandshake, Err: fmt.Errorf("send hello: %w", err)}
	}
	if s.ready != nil {
		s.ready()
	}

	requests := 0
	for {
		code, err := c.ReadCommand()
		if err == io.EOF {
			s.logger.Debug("client closed connection", slog.Int("requests", requests))
			return nil
		}
		if err != nil {
			return &SessionError{State: StateAwaitingCommand, Err: err}
		}

		cmd := helper.Command(code)
		if err := s.dispatch(c, cmd); err != nil {
			return &SessionError{State: StateDispatching, Command: cmd, Err: err}
		}
		requests++
	}
}

func (s *Server) dispatch(c *transport.Conn, cmd helper.Command) error {
	s.logger.Debug("dispatching request", slog.String("command", cmd.String()))

	switch cmd {
	case helper.CommandListFiles:
		return s.lister.List(c)
	case helper.CommandReadFile:
		return s.reader.Serve(c)
	default:
		return fmt.Errorf("%w %d", ErrUnknownCommand, uint32(cmd))
	}
}
