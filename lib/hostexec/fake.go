// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostexec

import (
	"context"
	"slices"
	"sync"
)

// Call is one recorded FakeRunner invocation.
type Call struct {
	Argv    []string
	Options Options
}

// FakeRunner is a Runner for tests. It records every call and answers
// with Respond, or with an empty successful Result when Respond is nil.
type FakeRunner struct {
	// Respond computes the outcome of a call. It runs with the
	// runner's lock released.
	Respond func(argv []string, options Options) (Result, error)

	mu    sync.Mutex
	calls []Call
}

// Run records the call and returns Respond's answer.
func (f *FakeRunner) Run(ctx context.Context, argv []string, options Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Argv: slices.Clone(argv), Options: options})
	f.mu.Unlock()
	if f.Respond == nil {
		return Result{}, nil
	}
	return f.Respond(argv, options)
}

// Calls returns a copy of the recorded calls in order.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Argvs returns just the argv of each recorded call.
func (f *FakeRunner) Argvs() [][]string {
	calls := f.Calls()
	argvs := make([][]string, len(calls))
	for i, call := range calls {
		argvs[i] = call.Argv
	}
	return argvs
}
