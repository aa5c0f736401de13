// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/perfgate/services/perfgate/scope"
)

// MaxProfileFileSize bounds a single profile file.
const MaxProfileFileSize = 1024 * 1024

// fileDocument is the root of a profile YAML file.
//
//	profiles:
//	  - id: payment-prod
//	    scope: api:payment+env:prod
//	    values:
//	      timeout: {type: duration, value: 60s}
//	      retries: 3
//	      region: eu-west-1
//
// Scalar values take their type from the YAML tag (!!int, !!float, !!bool,
// !!str). The mapping form states the type explicitly.
type fileDocument struct {
	Profiles []fileProfile `yaml:"profiles"`
}

type fileProfile struct {
	ID     string               `yaml:"id"`
	Scope  string               `yaml:"scope"`
	Values map[string]yaml.Node `yaml:"values"`
}

type fileTypedValue struct {
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
}

// ParseYAML decodes profiles from YAML.
//
// Inputs:
//   - data: YAML document.
//   - registry: Scope registry used to parse scope text. If nil, a
//     registry with the built-in factories is used.
//
// Outputs:
//   - []Profile: Decoded profiles in document order.
//   - error: Non-nil on malformed YAML, scope text or values.
func ParseYAML(data []byte, registry *scope.Registry) ([]Profile, error) {
	if registry == nil {
		registry = scope.NewRegistry()
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profile yaml: %w", err)
	}

	profiles := make([]Profile, 0, len(doc.Profiles))
	for i, fp := range doc.Profiles {
		s, err := registry.Parse(fp.Scope)
		if err != nil {
			return nil, fmt.Errorf("profile[%d] %q: %w", i, fp.ID, err)
		}
		values := make(map[ConfigKey]ConfigValue, len(fp.Values))
		for name, node := range fp.Values {
			key, err := NewConfigKey(name)
			if err != nil {
				return nil, fmt.Errorf("profile[%d] %q: %w", i, fp.ID, err)
			}
			v, err := decodeValue(&node)
			if err != nil {
				return nil, fmt.Errorf("profile[%d] %q key %q: %w", i, fp.ID, name, err)
			}
			values[key] = v
		}
		p, err := New(fp.ID, s, values)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// LoadFile reads profiles from a YAML file.
func LoadFile(path string, registry *scope.Registry) ([]Profile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat profile file: %w", err)
	}
	if info.Size() > MaxProfileFileSize {
		return nil, fmt.Errorf("profile file %s exceeds %d bytes", path, MaxProfileFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	profiles, err := ParseYAML(data, registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return profiles, nil
}

func decodeValue(node *yaml.Node) (ConfigValue, error) {
	switch node.Kind {
	case yaml.MappingNode:
		var tv fileTypedValue
		if err := node.Decode(&tv); err != nil {
			return ConfigValue{}, err
		}
		typ, err := ParseValueType(tv.Type)
		if err != nil {
			return ConfigValue{}, err
		}
		return decodeTyped(typ, &tv.Value)

	case yaml.ScalarNode:
		switch node.Tag {
		case "!!int":
			return decodeTyped(TypeInt, node)
		case "!!float":
			return decodeTyped(TypeDouble, node)
		case "!!bool":
			return decodeTyped(TypeBool, node)
		case "!!null":
			return ConfigValue{}, ErrEmptyValue
		default:
			return decodeTyped(TypeString, node)
		}

	default:
		return ConfigValue{}, fmt.Errorf("%w: unsupported yaml node kind %d", ErrTypeMismatch, node.Kind)
	}
}

func decodeTyped(typ ValueType, node *yaml.Node) (ConfigValue, error) {
	if node.Kind != yaml.ScalarNode {
		return ConfigValue{}, fmt.Errorf("%w: %s requires a scalar", ErrTypeMismatch, typ)
	}
	var raw any
	switch typ {
	case TypeInt:
		var v int64
		if err := node.Decode(&v); err != nil {
			return ConfigValue{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		raw = v
	case TypeDouble:
		var v float64
		if err := node.Decode(&v); err != nil {
			return ConfigValue{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		raw = v
	case TypeBool:
		var v bool
		if err := node.Decode(&v); err != nil {
			return ConfigValue{}, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
		}
		raw = v
	default:
		raw = node.Value
	}
	return NewValue(typ, raw)
}
