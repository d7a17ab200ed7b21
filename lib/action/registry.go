// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"cmp"
	"log/slog"
	"slices"
)

// Entry is one registered action.
type Entry struct {
	Name    string
	Module  string
	Handler Handler
}

// Conflict records an action name claimed by more than one module.
type Conflict struct {
	Action  string
	Kept    string
	Dropped string
}

// ModuleInfo summarizes a merged module for status output.
type ModuleInfo struct {
	Name        string
	Description string
	Source      string
	Digest      string
	// Actions lists the names this module actually owns after
	// conflict resolution, sorted.
	Actions []string
}

// Registry maps action names to handlers. It is immutable once built.
type Registry struct {
	entries   map[string]Entry
	names     []string
	conflicts []Conflict
	modules   []ModuleInfo
}

// BuildRegistry merges modules in lexicographic module-name order.
// Modules with equal names keep their relative input order. The first
// registration of each action name wins; later ones are logged and
// recorded as conflicts.
func BuildRegistry(modules []Module, logger *slog.Logger) *Registry {
	ordered := slices.Clone(modules)
	slices.SortStableFunc(ordered, func(a, b Module) int {
		return cmp.Compare(a.Name, b.Name)
	})

	registry := &Registry{entries: make(map[string]Entry)}
	for _, module := range ordered {
		info := ModuleInfo{
			Name:        module.Name,
			Description: module.Description,
			Source:      module.Source,
			Digest:      module.Digest,
		}

		actionNames := make([]string, 0, len(module.Actions))
		for name := range module.Actions {
			actionNames = append(actionNames, name)
		}
		slices.Sort(actionNames)

		for _, name := range actionNames {
			handler := module.Actions[name]
			if handler == nil {
				logger.Warn("action has no handler, skipping",
					"action", name,
					"module", module.Describe(),
				)
				continue
			}
			if existing, taken := registry.entries[name]; taken {
				logger.Warn("action name collision",
					"action", name,
					"kept_module", existing.Module,
					"dropped_module", module.Describe(),
				)
				registry.conflicts = append(registry.conflicts, Conflict{
					Action:  name,
					Kept:    existing.Module,
					Dropped: module.Name,
				})
				continue
			}
			registry.entries[name] = Entry{Name: name, Module: module.Name, Handler: handler}
			registry.names = append(registry.names, name)
			info.Actions = append(info.Actions, name)
		}
		registry.modules = append(registry.modules, info)
	}
	slices.Sort(registry.names)
	return registry
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// Resolve returns the handler for name or *UnknownActionError.
func (r *Registry) Resolve(name string) (Handler, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, &UnknownActionError{Name: name}
	}
	return entry.Handler, nil
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Entries returns every registered entry sorted by action name.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.names))
	for _, name := range r.names {
		entries = append(entries, r.entries[name])
	}
	return entries
}

// Conflicts returns the collisions encountered during the build.
func (r *Registry) Conflicts() []Conflict {
	return slices.Clone(r.conflicts)
}

// Modules returns the merged modules in registration order.
func (r *Registry) Modules() []ModuleInfo {
	return slices.Clone(r.modules)
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.names)
}
