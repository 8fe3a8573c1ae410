// auditview-server is the privileged helper for auditview.
// It runs as root and gives the unprivileged viewer read-only access to the
// audit log directory. It serves exactly one connection, handed to it on
// stdin (or by systemd socket activation), and exits when the viewer closes
// that connection.
//
// Lifecycle:
//  1. Load configuration (a missing file means defaults)
//  2. Setup structured JSON logger on stderr
//  3. Disable core dumps
//  4. Obtain the connection and check it is a stream socket
//  5. Send the hello token and notify systemd
//  6. Serve requests until end of stream
//  7. Exit 0 on a clean end of stream, 1 on anything else
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/doughall/auditview/internal/config"
	"github.com/doughall/auditview/internal/endpoint"
	"github.com/doughall/auditview/internal/logging"
	"github.com/doughall/auditview/internal/sanitize"
	"github.com/doughall/auditview/internal/server"
	"github.com/doughall/auditview/internal/systemd"
	"github.com/doughall/auditview/internal/version"
)

const programName = "auditview-server"

// trustedUID owns the configuration. A -config path is only honored when the
// process runs entirely as this user, and any config file must belong to it.
var trustedUID = 0

// errConfigOverride is returned when an untrusted caller passes -config.
var errConfigOverride = errors.New("-config may only be used when running as root")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	showVersion := fs.Bool("version", false, "print version information and exit")
	printConfig := fs.Bool("print-config", false, "print the effective configuration and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "This program is only for use by auditview and it should not be run manually.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return 1
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info(programName))
		return 0
	}

	if *configPath != config.DefaultConfigPath && !callerTrusted() {
		fmt.Fprintf(stderr, "ERROR: %v\n", errConfigOverride)
		return 1
	}

	cfg, err := config.Load(*configPath, trustedUID)
	if err != nil {
		// Use basic stderr logging before logger is configured
		fmt.Fprintf(stderr, "ERROR: failed to load configuration from %s: %v\n", *configPath, err)
		return 1
	}

	if *printConfig {
		data, err := config.Dump(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		stdout.Write(data)
		return 0
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	if err := endpoint.Harden(); err != nil {
		logger.Warn("process hardening failed", slog.String("error", err.Error()))
	}

	conn, err := endpoint.Open(cfg.Connection)
	if err != nil {
		logger.Error("failed to obtain connection",
			slog.String("connection", cfg.Connection),
			slog.String("error", err.Error()),
		)
		return 1
	}
	defer conn.Close()

	nameMax := sanitize.ResolveNameMax(cfg.LogDir, cfg.NameMax)

	logger.Info("helper starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("config_path", *configPath),
		slog.String("log_dir", cfg.LogDir),
		slog.String("connection", cfg.Connection),
		slog.Int("name_max", nameMax),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)

	if cred, err := endpoint.PeerCredentials(conn); err == nil {
		logger.Info("peer connected",
			slog.Int("pid", int(cred.Pid)),
			slog.Int("uid", int(cred.Uid)),
			slog.Int("gid", int(cred.Gid)),
		)
	} else {
		logger.Debug("peer credentials unavailable", slog.String("error", err.Error()))
	}

	srv := server.New(server.Options{
		Dir:         cfg.LogDir,
		NameMax:     nameMax,
		MaxFileSize: cfg.MaxFileSize,
		Ready:       func() { systemd.NotifyReady() },
	}, logger)

	err = srv.Run(conn)
	systemd.NotifyStopping()
	return exitCode(logger, err)
}

// callerTrusted reports whether both the real and effective uid are the
// trusted one. A setuid launch keeps the caller's real uid.
func callerTrusted() bool {
	return os.Getuid() == trustedUID && os.Geteuid() == trustedUID
}

// exitCode maps the session outcome to the process exit status.
func exitCode(logger *slog.Logger, err error) int {
	if err == nil {
		logger.Info("session ended", slog.String("outcome", "client closed connection"))
		return 0
	}
	logger.Error("session failed", slog.String("error", err.Error()))
	return 1
}
