// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Format selects the log handler.
type Format int

const (
	// FormatAuto uses text on a terminal and JSON otherwise.
	FormatAuto Format = iota
	FormatText
	FormatJSON
)

// NewLogger creates the logger for a binary writing to stderr.
//
// The daemon passes FormatJSON: its stderr is the journal, and JSON
// lines keep request IDs and argv machine-searchable. The caller CLI
// passes FormatAuto so interactive use stays readable.
func NewLogger(format Format, level slog.Level) *slog.Logger {
	return newLogger(os.Stderr, format, level, term.IsTerminal(int(os.Stderr.Fd())))
}

func newLogger(output io.Writer, format Format, level slog.Level, terminal bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if format == FormatText || (format == FormatAuto && terminal) {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}
