// auditview is a command-line viewer for audit logs served by the
// privileged helper.
//
// It starts auditview-server with a socketpair on its stdin and issues
// requests over the other end, the same way the graphical viewer does.
//
// Usage:
//
//	auditview [-server PATH] list
//	auditview [-server PATH] cat NAME...
//
// cat writes the named files to stdout in the order given, so
// "auditview cat audit.log.2 audit.log.1 audit.log" yields one
// chronological stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/doughall/auditview/internal/helper"
	"github.com/doughall/auditview/internal/version"
)

const programName = "auditview"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(programName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverPath := fs.String("server", helper.DefaultServerPath, "path to the privileged helper")
	showVersion := fs.Bool("version", false, "print version information and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [-server PATH] list | cat NAME...\n\n", programName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Info(programName))
		return 0
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	client, err := helper.Start(ctx, *serverPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return 1
	}

	err = execute(client, rest[0], rest[1:], stdout)
	if cerr := client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	switch {
	case errors.Is(err, errUsage):
		fs.Usage()
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return 1
	}
	return 0
}

// execute runs one subcommand against an open session.
func execute(client *helper.Client, command string, names []string, stdout io.Writer) error {
	switch command {
	case "list":
		if len(names) != 0 {
			return errUsage
		}
		files, err := client.ListFiles()
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, name := range files {
			fmt.Fprintln(stdout, name)
		}
		return nil

	case "cat":
		if len(names) == 0 {
			return errUsage
		}
		for _, name := range names {
			data, err := client.ReadFile(name)
			if err != nil {
				return err
			}
			if _, err := stdout.Write(data); err != nil {
				return err
			}
		}
		return nil

	default:
		return errUsage
	}
}
