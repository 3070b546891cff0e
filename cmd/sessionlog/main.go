// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sessionlog inspects a session log on disk without taking its lock,
// so it can run next to the process that owns the log.
//
//	sessionlog list
//	sessionlog show <session-id>
//	sessionlog events <session-id>
//	sessionlog payload <session-id>
//
// The base path comes from --base, else from the config file named by
// --config or SESSIONLOG_CONFIG, else from the default configuration.
// Output is a table on a terminal and JSON otherwise; --json forces
// JSON.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/sessionlog/lib/config"
	"github.com/bureau-foundation/sessionlog/lib/process"
	"github.com/bureau-foundation/sessionlog/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

// options are the global flags.
type options struct {
	base       string
	configPath string
	json       bool
	limit      int
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("sessionlog", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.base, "base", "", "session log base path (overrides the config file)")
	flagSet.StringVar(&opts.configPath, "config", "", "config file (default: $SESSIONLOG_CONFIG)")
	flagSet.BoolVar(&opts.json, "json", false, "output JSON even on a terminal")
	flagSet.IntVar(&opts.limit, "limit", 0, "events: show at most this many (0 = all)")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("sessionlog")
		return nil
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	positional := flagSet.Args()
	if len(positional) == 0 {
		printHelp(stderr, flagSet)
		return process.ExitCode(2)
	}

	base, err := resolveBase(opts)
	if err != nil {
		return err
	}
	if !opts.json {
		opts.json = !isTerminal(stdout)
	}
	inspector := &inspector{base: base, json: opts.json, limit: opts.limit, stdout: stdout, stderr: stderr}

	command, rest := positional[0], positional[1:]
	switch command {
	case "list":
		if len(rest) != 0 {
			return fmt.Errorf("list takes no arguments")
		}
		return inspector.list()
	case "show", "events", "payload":
		if len(rest) != 1 {
			return fmt.Errorf("%s takes exactly one session id", command)
		}
		switch command {
		case "show":
			return inspector.show(rest[0])
		case "events":
			return inspector.events(rest[0])
		default:
			return inspector.payload(rest[0])
		}
	default:
		return fmt.Errorf("unknown command %q (valid: list, show, events, payload)", command)
	}
}

func resolveBase(opts options) (string, error) {
	if opts.base != "" {
		return opts.base, nil
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}
	return cfg.Paths.Base, nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `sessionlog inspects a session log on disk (read-only, lock-free).

Usage:
  sessionlog [flags] list
  sessionlog [flags] show <session-id>
  sessionlog [flags] events <session-id>
  sessionlog [flags] payload <session-id>

Commands:
  list      every session with its state and bytes awaiting upload
  show      one session's record
  events    one session's events
  payload   the upload payload for one session, in CBOR diagnostic notation

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
