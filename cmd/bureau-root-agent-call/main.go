// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/bureau-root-agent/lib/service"
	"github.com/bureau-foundation/bureau-root-agent/lib/version"
)

const binaryName = "bureau-root-agent-call"

const (
	exitOK          = 0
	exitRemote      = 1
	exitUsage       = 2
	exitUnreachable = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		socketPath string
		timeout    time.Duration
		jsonOutput bool
		paramsJSON string
	)
	flagSet := pflag.NewFlagSet(binaryName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&socketPath, "socket", "", "root agent socket (default $"+service.SocketEnvironmentVariable+" or "+service.DefaultSocketPath+")")
	flagSet.DurationVar(&timeout, "timeout", service.DefaultTimeout, "overall request timeout")
	flagSet.BoolVar(&jsonOutput, "json", false, "print the full response as JSON")
	flagSet.StringVar(&paramsJSON, "params", "", "request params as a JSON object; key=value arguments are merged over it")
	flagSet.Bool("version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] <action> [key=value ...]\n\nflags:\n", binaryName)
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if showVersion, _ := flagSet.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "%s %s\n", binaryName, version.Info())
		return exitOK
	}

	positional := flagSet.Args()
	if len(positional) == 0 {
		flagSet.Usage()
		return exitUsage
	}
	actionName := positional[0]
	params, err := buildParams(paramsJSON, positional[1:])
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	client := service.NewClient(service.ResolveSocketPath(socketPath))
	client.Timeout = timeout
	result, err := client.Call(context.Background(), actionName, params)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		switch {
		case service.IsRemoteError(err):
			if jsonOutput {
				var remote *service.RemoteError
				errors.As(err, &remote)
				writeJSON(stdout, map[string]any{"ok": false, "error": remote.Message})
			}
			return exitRemote
		case service.IsConnectionError(err):
			return exitUnreachable
		default:
			return exitUsage
		}
	}

	if jsonOutput {
		response := map[string]any{"ok": true}
		for key, value := range result {
			response[key] = value
		}
		writeJSON(stdout, response)
		return exitOK
	}
	printResult(stdout, result)
	return exitOK
}

// buildParams merges key=value arguments over the --params object.
func buildParams(paramsJSON string, assignments []string) (map[string]any, error) {
	params := map[string]any{}
	if paramsJSON != "" {
		decoded, err := decodeJSON(paramsJSON)
		if err != nil {
			return nil, fmt.Errorf("--params: %w", err)
		}
		object, ok := decoded.(map[string]any)
		if !ok {
			return nil, errors.New("--params must be a JSON object")
		}
		params = object
	}
	for _, assignment := range assignments {
		key, raw, found := strings.Cut(assignment, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", assignment)
		}
		params[key] = parseValue(raw)
	}
	return params, nil
}

// parseValue returns raw decoded as JSON, or raw itself when it is not
// valid JSON.
func parseValue(raw string) any {
	value, err := decodeJSON(raw)
	if err != nil {
		return raw
	}
	return value
}

func decodeJSON(text string) (any, error) {
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return value, nil
}

func writeJSON(w io.Writer, value any) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err == nil {
		w.Write(buffer.Bytes())
	}
}

// printResult prints a lone "output" value verbatim and anything else
// as sorted key: value lines.
func printResult(w io.Writer, result map[string]any) {
	if len(result) == 1 {
		if output, ok := result["output"].(string); ok {
			if output != "" {
				fmt.Fprintln(w, output)
			}
			return
		}
	}
	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		switch value := result[key].(type) {
		case string:
			fmt.Fprintf(w, "%s: %s\n", key, value)
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				fmt.Fprintf(w, "%s: %v\n", key, value)
				continue
			}
			fmt.Fprintf(w, "%s: %s\n", key, encoded)
		}
	}
}
