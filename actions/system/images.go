// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"os"
	"strings"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// virtCustomizeOps are the virt-customize operations a caller may
// request. Operations that execute on the host or pull in arbitrary
// host files are absent.
var virtCustomizeOps = map[string]bool{
	"--install":           true,
	"--run-command":       true,
	"--copy-in":           true,
	"--upload":            true,
	"--chmod":             true,
	"--mkdir":             true,
	"--write":             true,
	"--append-line":       true,
	"--firstboot-command": true,
	"--run":               true,
	"--delete":            true,
}

// hostSourceOps read a file from the host. Their first argument is
// checked against the image directories: a script path for --run,
// LOCAL:REMOTE for --copy-in and --upload.
var hostSourceOps = map[string]bool{
	"--run":     true,
	"--copy-in": true,
	"--upload":  true,
}

// virtCustomize runs virt-customize -a image with the requested
// operations. commands is a list of [op, arg, ...] entries.
func (h *handlers) virtCustomize(ctx context.Context, params action.Params) (action.Result, error) {
	imagePath, err := params.String("image_path")
	if err != nil {
		return nil, err
	}
	resolved, err := validate.PathUnder("image_path", imagePath, h.config.ImageDirs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return nil, validate.Invalid("image_path", "image not found: %s", imagePath)
	}

	commands, err := params.List("commands")
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return nil, validate.Invalid("commands", "must be a non-empty list")
	}

	argv := []string{"virt-customize", "-a", resolved}
	for index, entry := range commands {
		words, err := h.customizeEntry(index, entry)
		if err != nil {
			return nil, err
		}
		argv = append(argv, words...)
	}

	result, err := h.env.Exec(ctx, argv, virtCustomizeTimeout)
	if err != nil {
		return nil, err
	}
	return action.Result{"output": result.Stdout}, nil
}

func (h *handlers) customizeEntry(index int, entry any) ([]string, error) {
	list, ok := entry.([]any)
	if !ok || len(list) < 2 {
		return nil, validate.Invalid("commands", "entry %d must be [op, arg, ...]", index)
	}
	words := make([]string, len(list))
	for position, element := range list {
		text, ok := element.(string)
		if !ok {
			return nil, validate.Invalid("commands", "entry %d: element %d must be a string", index, position)
		}
		words[position] = text
	}

	operation := words[0]
	if !virtCustomizeOps[operation] {
		return nil, validate.Invalid("commands", "disallowed virt-customize op: %s", operation)
	}
	for _, argument := range words[1:] {
		if strings.HasPrefix(argument, "-") {
			return nil, validate.Invalid("commands", "entry %d: argument %q looks like an option", index, argument)
		}
	}
	if hostSourceOps[operation] {
		source, remote, hasRemote := words[1], "", false
		if operation != "--run" {
			source, remote, hasRemote = strings.Cut(source, ":")
			if !hasRemote {
				return nil, validate.Invalid("commands", "%s argument must be LOCAL:REMOTE, got %q", operation, words[1])
			}
		}
		resolved, err := validate.PathUnder("commands", source, h.config.ImageDirs)
		if err != nil {
			return nil, err
		}
		words[1] = resolved
		if hasRemote {
			words[1] = resolved + ":" + remote
		}
	}
	return words, nil
}
