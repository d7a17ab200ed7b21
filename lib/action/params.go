// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bureau-foundation/bureau-root-agent/lib/validate"
)

// Params is the decoded "params" object of a request. Numbers arrive
// as json.Number. The accessors return *validate.Error for missing or
// mistyped values so handlers can return them unchanged.
type Params map[string]any

// Has reports whether key is present and not JSON null.
func (p Params) Has(key string) bool {
	value, ok := p[key]
	return ok && value != nil
}

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return "", missing(key)
	}
	text, ok := value.(string)
	if !ok {
		return "", validate.Invalid(key, "must be a string, got %s", typeName(value))
	}
	return text, nil
}

// OptionalString returns a string parameter or fallback when absent.
func (p Params) OptionalString(key, fallback string) (string, error) {
	if !p.Has(key) {
		return fallback, nil
	}
	return p.String(key)
}

// Int returns a required integer parameter. JSON numbers and numeric
// values are accepted; fractional values are rejected.
func (p Params) Int(key string) (int, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return 0, missing(key)
	}
	return validate.Integer(key, value)
}

// Raw returns the undecoded value for validators that accept several
// representations, such as VMIDs given as numbers.
func (p Params) Raw(key string) (any, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, missing(key)
	}
	return value, nil
}

// Bool returns a boolean parameter or fallback when absent.
func (p Params) Bool(key string, fallback bool) (bool, error) {
	if !p.Has(key) {
		return fallback, nil
	}
	flag, ok := p[key].(bool)
	if !ok {
		return false, validate.Invalid(key, "must be a boolean, got %s", typeName(p[key]))
	}
	return flag, nil
}

// List returns a required JSON array parameter.
func (p Params) List(key string) ([]any, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, missing(key)
	}
	list, ok := value.([]any)
	if !ok {
		return nil, validate.Invalid(key, "must be a list, got %s", typeName(value))
	}
	return list, nil
}

// Map returns a required JSON object parameter.
func (p Params) Map(key string) (map[string]any, error) {
	value, ok := p[key]
	if !ok || value == nil {
		return nil, missing(key)
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, validate.Invalid(key, "must be an object, got %s", typeName(value))
	}
	return object, nil
}

// StringMap returns a JSON object parameter whose values are all
// strings, or an empty map when absent.
func (p Params) StringMap(key string) (map[string]string, error) {
	if !p.Has(key) {
		return map[string]string{}, nil
	}
	object, err := p.Map(key)
	if err != nil {
		return nil, err
	}
	result := make(map[string]string, len(object))
	for name, value := range object {
		text, ok := value.(string)
		if !ok {
			return nil, validate.Invalid(key, "value for %q must be a string, got %s", name, typeName(value))
		}
		result[name] = text
	}
	return result, nil
}

// Scalar renders a decoded scalar as an argv string. Request values
// arrive as json.Number; manifest defaults parsed from YAML or TOML
// arrive as Go integers.
func Scalar(field string, value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case json.Number:
		return typed.String(), nil
	case bool:
		return strconv.FormatBool(typed), nil
	case int:
		return strconv.Itoa(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10), nil
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	default:
		return "", validate.Invalid(field, "must be a string, number, or boolean")
	}
}

func missing(key string) error {
	return validate.Invalid(key, "required parameter missing")
}

// typeName names a decoded JSON value's type in the caller's terms.
func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
