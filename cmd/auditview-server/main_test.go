package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/doughall/auditview/internal/helper"
	"github.com/doughall/auditview/internal/server"
	"github.com/doughall/auditview/internal/transport"
)

// trustUID makes uid the configuration owner for the duration of the test.
func trustUID(t *testing.T, uid int) {
	t.Helper()
	saved := trustedUID
	trustedUID = uid
	t.Cleanup(func() { trustedUID = saved })
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runOnSocket runs the helper with one end of a socketpair as its stdin and
// returns the other end and a channel carrying the exit status.
func runOnSocket(t *testing.T, args ...string) (net.Conn, <-chan int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "client")
	conn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		t.Fatal(err)
	}

	child := os.NewFile(uintptr(fds[1]), "stdin")
	saved := os.Stdin
	os.Stdin = child
	t.Cleanup(func() {
		os.Stdin = saved
		conn.Close()
	})

	done := make(chan int, 1)
	go func() {
		code := run(args, io.Discard, io.Discard)
		// run only closes stdin once it has started serving.
		child.Close()
		done <- code
	}()
	return conn, done
}

func waitExit(t *testing.T, done <-chan int) int {
	t.Helper()
	select {
	case code := <-done:
		return code
	case <-time.After(10 * time.Second):
		t.Fatal("helper did not exit")
		return -1
	}
}

func TestRunFlags(t *testing.T) {
	t.Run("extra arguments", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"unexpected"}, &stdout, &stderr); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
		if !strings.Contains(stderr.String(), "should not be run manually") {
			t.Errorf("expected usage message, got %q", stderr.String())
		}
	})

	t.Run("help", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-help"}, &stdout, &stderr); code != 0 {
			t.Errorf("expected exit 0, got %d", code)
		}
	})

	t.Run("version", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-version"}, &stdout, &stderr); code != 0 {
			t.Errorf("expected exit 0, got %d", code)
		}
		if !strings.HasPrefix(stdout.String(), programName+" ") {
			t.Errorf("unexpected version output %q", stdout.String())
		}
	})

	t.Run("print config", func(t *testing.T) {
		trustUID(t, os.Getuid())
		path := writeConfig(t, "log_dir: /srv/audit\n")
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-config", path, "-print-config"}, &stdout, &stderr); code != 0 {
			t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
		}
		if !strings.Contains(stdout.String(), "log_dir: /srv/audit") {
			t.Errorf("unexpected config dump %q", stdout.String())
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		trustUID(t, os.Getuid())
		path := writeConfig(t, "connection: tcp\n")
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-config", path}, &stdout, &stderr); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
	})
}

func TestRunConfigTrust(t *testing.T) {
	t.Run("config override from untrusted caller", func(t *testing.T) {
		trustUID(t, os.Getuid()+1)
		path := writeConfig(t, "log_dir: "+t.TempDir()+"\n")
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-config", path, "-print-config"}, &stdout, &stderr); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
		if stdout.Len() != 0 {
			t.Errorf("expected no output, got %q", stdout.String())
		}
		if !strings.Contains(stderr.String(), errConfigOverride.Error()) {
			t.Errorf("expected override refusal, got %q", stderr.String())
		}
	})

	t.Run("world writable config", func(t *testing.T) {
		trustUID(t, os.Getuid())
		path := writeConfig(t, "log_dir: "+t.TempDir()+"\n")
		if err := os.Chmod(path, 0666); err != nil {
			t.Fatal(err)
		}
		var stdout, stderr bytes.Buffer
		if code := run([]string{"-config", path, "-print-config"}, &stdout, &stderr); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
		if !strings.Contains(stderr.String(), "untrusted config file") {
			t.Errorf("expected untrusted config error, got %q", stderr.String())
		}
	})

	t.Run("untrusted config never serves", func(t *testing.T) {
		trustUID(t, os.Getuid()+1)
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "shadow"), []byte("secret\n"), 0600); err != nil {
			t.Fatal(err)
		}
		conn, done := runOnSocket(t, "-config", writeConfig(t, "log_dir: "+dir+"\n"))
		if code := waitExit(t, done); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
		if rest, _ := io.ReadAll(conn); len(rest) != 0 {
			t.Errorf("expected nothing on the connection, got %d bytes", len(rest))
		}
	})
}

func TestRunSession(t *testing.T) {
	trustUID(t, os.Getuid())
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "audit.log"), []byte("type=LOGIN\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeConfig(t, "log_dir: "+dir+"\n")

	t.Run("clean close exits 0", func(t *testing.T) {
		conn, done := runOnSocket(t, "-config", cfgPath)
		c, err := helper.NewConnClient(conn)
		if err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
		names, err := c.ListFiles()
		if err != nil || len(names) != 1 || names[0] != "audit.log" {
			t.Fatalf("unexpected listing %v (err %v)", names, err)
		}
		data, err := c.ReadFile("audit.log")
		if err != nil || string(data) != "type=LOGIN\n" {
			t.Fatalf("unexpected contents %q (err %v)", data, err)
		}
		c.Close()
		if code := waitExit(t, done); code != 0 {
			t.Errorf("expected exit 0, got %d", code)
		}
	})

	t.Run("unknown command exits 1", func(t *testing.T) {
		conn, done := runOnSocket(t, "-config", cfgPath)
		if _, err := helper.NewConnClient(conn); err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
		if err := transport.NewConn(conn).WriteUint32(7); err != nil {
			t.Fatal(err)
		}
		if code := waitExit(t, done); code != 1 {
			t.Errorf("expected exit 1, got %d", code)
		}
		if rest, _ := io.ReadAll(conn); len(rest) != 0 {
			t.Errorf("expected no reply to unknown command, got %d bytes", len(rest))
		}
	})
}

func TestExitCode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if code := exitCode(logger, nil); code != 0 {
		t.Errorf("clean end of stream: expected 0, got %d", code)
	}
	err := &server.SessionError{State: server.StateDispatching, Command: 42, Err: server.ErrUnknownCommand}
	if code := exitCode(logger, err); code != 1 {
		t.Errorf("protocol violation: expected 1, got %d", code)
	}
	if code := exitCode(logger, errors.New("boom")); code != 1 {
		t.Errorf("other failure: expected 1, got %d", code)
	}
}
