// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/bureau-root-agent/lib/codec"
)

func runStatus(args []string) error {
	var configPath string
	var jsonOutput, rawOutput bool
	flagSet := pflag.NewFlagSet(binaryName+" status", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file")
	flagSet.BoolVar(&jsonOutput, "json", false, "print the state as JSON")
	flagSet.BoolVar(&rawOutput, "raw", false, "print the state file in CBOR diagnostic notation")
	if err := parseFlags(flagSet, args); err != nil {
		return err
	}
	if jsonOutput && rawOutput {
		return errors.New("--json and --raw are mutually exclusive")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	path := stateFilePath(cfg)

	if rawOutput {
		data, err := os.ReadFile(path)
		if err != nil {
			return stateError(path, err)
		}
		diagnostic, err := codec.Diagnose(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		fmt.Println(diagnostic)
		return nil
	}

	var state State
	if err := codec.ReadFile(path, &state); err != nil {
		return stateError(path, err)
	}
	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(state)
	}
	printStatus(os.Stdout, state, processAlive(state.PID), time.Now())
	return nil
}

func stateError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("root agent is not running (no state file at %s)", path)
	}
	return err
}

// processAlive reports whether pid exists. EPERM means it exists but
// belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func printStatus(w io.Writer, state State, alive bool, now time.Time) {
	running := "running"
	if !alive {
		running = "not running (stale state file)"
	}
	fmt.Fprintf(w, "pid:        %d, %s\n", state.PID, running)
	fmt.Fprintf(w, "socket:     %s\n", state.Socket)
	fmt.Fprintf(w, "started:    %s (up %s)\n", state.StartedAt.Format(time.RFC3339), now.Sub(state.StartedAt).Truncate(time.Second))
	fmt.Fprintf(w, "version:    %s\n", state.Version)
	if state.BinaryDigest != "" {
		fmt.Fprintf(w, "binary:     %s %s\n", state.Binary, state.BinaryDigest)
	}
	if state.ConfigFile != "" {
		fmt.Fprintf(w, "config:     %s\n", state.ConfigFile)
	}
	fmt.Fprintf(w, "plugin dir: %s\n", state.PluginDir)
	if state.AuditDB != "" {
		fmt.Fprintf(w, "audit db:   %s\n", state.AuditDB)
	}

	fmt.Fprintln(w)
	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "MODULE\tSOURCE\tACTIONS")
	for _, module := range state.Modules {
		source := module.Source
		if module.Digest != "" {
			source += " " + module.Digest
		}
		fmt.Fprintf(table, "%s\t%s\t%s\n", module.Name, source, strings.Join(module.Actions, ", "))
	}
	table.Flush()

	if len(state.Conflicts) > 0 {
		fmt.Fprintln(w, "\nconflicts:")
		for _, conflict := range state.Conflicts {
			fmt.Fprintf(w, "  %s: kept %s, dropped %s\n", conflict.Action, conflict.Kept, conflict.Dropped)
		}
	}
	if len(state.PluginFailures) > 0 {
		fmt.Fprintln(w, "\nskipped plugins:")
		for _, failure := range state.PluginFailures {
			fmt.Fprintf(w, "  %s: %s\n", failure.Path, failure.Error)
		}
	}
}
