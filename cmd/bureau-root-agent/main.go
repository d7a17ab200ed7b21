// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-root-agent/lib/config"
	"github.com/bureau-foundation/bureau-root-agent/lib/process"
	"github.com/bureau-foundation/bureau-root-agent/lib/version"
)

const binaryName = "bureau-root-agent"

// errHelp is returned after usage was printed on request.
var errHelp = errors.New("help requested")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Printf("%s %s\n", binaryName, version.Full())
		return nil
	}

	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		return runServe(args)
	case "status":
		return runStatus(args)
	case "audit":
		return runAudit(args)
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  %[1]s [serve] [--config PATH] [--allow-unprivileged]
  %[1]s status [--config PATH] [--json | --raw]
  %[1]s audit [--config PATH] [--action NAME] [--limit N] [--json]
  %[1]s --version

The configuration file defaults to $%[2]s; with neither the flag
nor the variable set, built-in defaults apply.
`, binaryName, config.EnvironmentVariable)
}

// parseFlags parses args and turns --help into errHelp.
func parseFlags(flagSet *pflag.FlagSet, args []string) error {
	flagSet.SetOutput(os.Stderr)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}
	return nil
}

// loadConfig loads and validates the configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
