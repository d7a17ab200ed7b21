// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bureau-foundation/bureau-root-agent/lib/action"
	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// routeDeviceValidator is resolved against the configured allow-list
// rather than through validate.Lookup.
const routeDeviceValidator = "route-device"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// check normalizes one parameter value or rejects it.
type check func(field, value string) (string, error)

type compiledParam struct {
	name       string
	check      check
	optional   bool
	hasDefault bool
	fallback   string
}

// argTemplate is one argv element. Literal elements have no params.
type argTemplate struct {
	text   string
	params []string
}

type compiledAction struct {
	name    string
	argv    []argTemplate
	timeout time.Duration
	params  map[string]*compiledParam
	schema  *gojsonschema.Schema
}

// compileManifest turns a parsed manifest into a module. Any problem
// in any action rejects the whole manifest.
func compileManifest(manifest *Manifest, options Options) (map[string]action.Handler, error) {
	names := make([]string, 0, len(manifest.Actions))
	for name := range manifest.Actions {
		names = append(names, name)
	}
	slices.Sort(names)

	handlers := make(map[string]action.Handler, len(names))
	for _, name := range names {
		compiled, err := compileAction(name, manifest.Actions[name], options)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", name, err)
		}
		handlers[name] = compiled.handler(options.Env)
	}
	return handlers, nil
}

func compileAction(name string, spec ActionSpec, options Options) (*compiledAction, error) {
	if _, err := validate.Name("action name", name); err != nil {
		return nil, err
	}
	if len(spec.Command) == 0 {
		return nil, errors.New("command is empty")
	}
	if spec.Command[0] == "" || placeholderPattern.MatchString(spec.Command[0]) {
		return nil, fmt.Errorf("command[0] must be a literal program name, got %q", spec.Command[0])
	}

	compiled := &compiledAction{
		name:    name,
		timeout: options.Env.CommandTimeout,
		params:  make(map[string]*compiledParam, len(spec.Params)),
	}
	if spec.Timeout != "" {
		timeout, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		if timeout <= 0 {
			return nil, fmt.Errorf("timeout must be positive, got %s", spec.Timeout)
		}
		compiled.timeout = timeout
	}

	for paramName, paramSpec := range spec.Params {
		param, err := compileParam(paramName, paramSpec, options.RouteDevices)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", paramName, err)
		}
		compiled.params[paramName] = param
	}

	for _, element := range spec.Command {
		template := argTemplate{text: element}
		for _, match := range placeholderPattern.FindAllStringSubmatch(element, -1) {
			if _, declared := compiled.params[match[1]]; !declared {
				return nil, fmt.Errorf("command references undeclared param {%s}", match[1])
			}
			if !slices.Contains(template.params, match[1]) {
				template.params = append(template.params, match[1])
			}
		}
		compiled.argv = append(compiled.argv, template)
	}

	if spec.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.Schema))
		if err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
		compiled.schema = schema
	}
	return compiled, nil
}

func compileParam(name string, spec ParamSpec, routeDevices []string) (*compiledParam, error) {
	set := 0
	for _, present := range []bool{spec.Validate != "", spec.Pattern != "", len(spec.Enum) > 0} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of validate, pattern, or enum is required")
	}

	param := &compiledParam{name: name, optional: spec.Optional}
	switch {
	case spec.Validate == routeDeviceValidator:
		allowed := slices.Clone(routeDevices)
		param.check = func(field, value string) (string, error) {
			return validate.RouteDevice(field, value, allowed)
		}
	case spec.Validate != "":
		named, ok := validate.Lookup(spec.Validate)
		if !ok {
			return nil, fmt.Errorf("unknown validator %q (known: %s, %s)",
				spec.Validate, strings.Join(validate.Names(), ", "), routeDeviceValidator)
		}
		param.check = check(named)
	case spec.Pattern != "":
		pattern, err := regexp.Compile(`^(?:` + spec.Pattern + `)$`)
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		param.check = func(field, value string) (string, error) {
			if _, err := validate.NoShellMeta(field, value); err != nil {
				return "", err
			}
			if !pattern.MatchString(value) {
				return "", validate.Invalid(field, "%q does not match %s", value, spec.Pattern)
			}
			return value, nil
		}
	default:
		allowed := slices.Clone(spec.Enum)
		param.check = func(field, value string) (string, error) {
			if !slices.Contains(allowed, value) {
				return "", validate.Invalid(field, "must be one of %s", strings.Join(allowed, ", "))
			}
			return value, nil
		}
	}

	if spec.Default != nil {
		text, err := action.Scalar(name, spec.Default)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		normalized, err := param.check(name, text)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		param.hasDefault = true
		param.fallback = normalized
	}
	return param, nil
}

func (c *compiledAction) handler(env action.Env) action.Handler {
	return func(ctx context.Context, params action.Params) (action.Result, error) {
		argv, err := c.bind(params)
		if err != nil {
			return nil, err
		}
		result, err := env.Exec(ctx, argv, c.timeout)
		if err != nil {
			return nil, err
		}
		return action.Result{"output": result.Stdout}, nil
	}
}

// bind validates params and substitutes them into the argv template.
func (c *compiledAction) bind(params action.Params) ([]string, error) {
	for name := range params {
		if _, declared := c.params[name]; !declared {
			return nil, validate.Invalid(name, "unknown parameter for %s", c.name)
		}
	}

	if c.schema != nil {
		document := map[string]any(params)
		if document == nil {
			document = map[string]any{}
		}
		result, err := c.schema.Validate(gojsonschema.NewGoLoader(document))
		if err != nil {
			return nil, validate.Invalid("params", "%v", err)
		}
		if !result.Valid() {
			details := make([]string, 0, len(result.Errors()))
			for _, description := range result.Errors() {
				details = append(details, description.String())
			}
			return nil, validate.Invalid("params", "%s", strings.Join(details, "; "))
		}
	}

	values := make(map[string]string, len(c.params))
	for name, param := range c.params {
		raw, present := params[name]
		if !present || raw == nil {
			switch {
			case param.hasDefault:
				values[name] = param.fallback
			case param.optional:
			default:
				return nil, validate.Invalid(name, "required parameter missing")
			}
			continue
		}
		text, err := action.Scalar(name, raw)
		if err != nil {
			return nil, err
		}
		normalized, err := param.check(name, text)
		if err != nil {
			return nil, err
		}
		values[name] = normalized
	}

	argv := make([]string, 0, len(c.argv))
	for _, template := range c.argv {
		element := template.text
		dropped := false
		for _, name := range template.params {
			value, ok := values[name]
			if !ok {
				dropped = true
				break
			}
			element = strings.ReplaceAll(element, "{"+name+"}", value)
		}
		if !dropped {
			argv = append(argv, element)
		}
	}
	return argv, nil
}
