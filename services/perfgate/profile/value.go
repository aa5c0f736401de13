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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptyKey is returned when a ConfigKey is blank.
	ErrEmptyKey = errors.New("config key must not be empty")

	// ErrTypeMismatch is returned when a raw value does not match its type tag.
	ErrTypeMismatch = errors.New("config value does not match declared type")

	// ErrUnknownValueType is returned for an unrecognized type tag.
	ErrUnknownValueType = errors.New("unknown config value type")

	// ErrNotNumeric is returned when a non-numeric value is read as a number.
	ErrNotNumeric = errors.New("config value is not numeric")
)

// ConfigKey names a configuration entry.
type ConfigKey string

// NewConfigKey validates and returns a key.
func NewConfigKey(name string) (ConfigKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyKey
	}
	return ConfigKey(name), nil
}

// String returns the key name.
func (k ConfigKey) String() string { return string(k) }

// ValueType is the explicit type tag of a ConfigValue.
type ValueType int

const (
	// TypeString holds text.
	TypeString ValueType = iota + 1

	// TypeInt holds a 64-bit integer.
	TypeInt

	// TypeDuration holds a time.Duration.
	TypeDuration

	// TypeDouble holds a float64.
	TypeDouble

	// TypeBool holds a boolean.
	TypeBool
)

// String returns the string representation.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeDuration:
		return "duration"
	case TypeDouble:
		return "double"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("value_type(%d)", int(t))
	}
}

// ParseValueType maps a type name to its tag.
func ParseValueType(name string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "string", "str":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "duration":
		return TypeDuration, nil
	case "double", "float", "number":
		return TypeDouble, nil
	case "bool", "boolean":
		return TypeBool, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownValueType, name)
	}
}

// ConfigValue is a typed, immutable configuration value.
//
// The zero value is invalid; construct values with NewValue or the typed
// helpers (String, Int, Duration, Double, Bool).
type ConfigValue struct {
	typ ValueType
	s   string
	i   int64
	d   time.Duration
	f   float64
	b   bool
}

// NewValue builds a value from a raw Go value and its declared type.
//
// Description:
//
//	The raw value's shape must match typ. Integers are accepted as Double,
//	and strings parseable by time.ParseDuration are accepted as Duration.
//	Anything else is rejected immediately.
//
// Outputs:
//   - ConfigValue: The typed value.
//   - error: ErrTypeMismatch or ErrUnknownValueType.
func NewValue(typ ValueType, raw any) (ConfigValue, error) {
	mismatch := func() (ConfigValue, error) {
		return ConfigValue{}, fmt.Errorf("%w: %s given %T(%v)", ErrTypeMismatch, typ, raw, raw)
	}

	switch typ {
	case TypeString:
		v, ok := raw.(string)
		if !ok {
			return mismatch()
		}
		return String(v), nil

	case TypeInt:
		switch v := raw.(type) {
		case int:
			return Int(int64(v)), nil
		case int32:
			return Int(int64(v)), nil
		case int64:
			return Int(v), nil
		case uint64:
			if v > math.MaxInt64 {
				return mismatch()
			}
			return Int(int64(v)), nil
		default:
			return mismatch()
		}

	case TypeDuration:
		switch v := raw.(type) {
		case time.Duration:
			return Duration(v), nil
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return mismatch()
			}
			return Duration(d), nil
		default:
			return mismatch()
		}

	case TypeDouble:
		switch v := raw.(type) {
		case float64:
			return Double(v), nil
		case float32:
			return Double(float64(v)), nil
		case int:
			return Double(float64(v)), nil
		case int64:
			return Double(float64(v)), nil
		default:
			return mismatch()
		}

	case TypeBool:
		v, ok := raw.(bool)
		if !ok {
			return mismatch()
		}
		return Bool(v), nil

	default:
		return ConfigValue{}, fmt.Errorf("%w: %d", ErrUnknownValueType, int(typ))
	}
}

// String returns a String value.
func String(v string) ConfigValue { return ConfigValue{typ: TypeString, s: v} }

// Int returns an Int value.
func Int(v int64) ConfigValue { return ConfigValue{typ: TypeInt, i: v} }

// Duration returns a Duration value.
func Duration(v time.Duration) ConfigValue { return ConfigValue{typ: TypeDuration, d: v} }

// Double returns a Double value.
func Double(v float64) ConfigValue { return ConfigValue{typ: TypeDouble, f: v} }

// Bool returns a Bool value.
func Bool(v bool) ConfigValue { return ConfigValue{typ: TypeBool, b: v} }

// Type returns the type tag.
func (v ConfigValue) Type() ValueType { return v.typ }

// IsZero reports whether v was never constructed.
func (v ConfigValue) IsZero() bool { return v.typ == 0 }

// AsString returns the text of a String value.
func (v ConfigValue) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsInt returns the integer of an Int value.
func (v ConfigValue) AsInt() (int64, bool) { return v.i, v.typ == TypeInt }

// AsDuration returns the duration of a Duration value.
func (v ConfigValue) AsDuration() (time.Duration, bool) { return v.d, v.typ == TypeDuration }

// AsDouble returns the float of a Double value.
func (v ConfigValue) AsDouble() (float64, bool) { return v.f, v.typ == TypeDouble }

// AsBool returns the boolean of a Bool value.
func (v ConfigValue) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// Float returns the numeric reading of the value.
//
// Description:
//
//	Int and Double convert directly. Duration is expressed in milliseconds,
//	the unit latency metrics are reported in.
//
// Outputs:
//   - float64: The numeric value.
//   - error: ErrNotNumeric for String and Bool values.
func (v ConfigValue) Float() (float64, error) {
	switch v.typ {
	case TypeInt:
		return float64(v.i), nil
	case TypeDouble:
		return v.f, nil
	case TypeDuration:
		return float64(v.d) / float64(time.Millisecond), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotNumeric, v.typ)
	}
}

// Equal reports whether two values have the same type and content.
func (v ConfigValue) Equal(o ConfigValue) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeString:
		return v.s == o.s
	case TypeInt:
		return v.i == o.i
	case TypeDuration:
		return v.d == o.d
	case TypeDouble:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case TypeBool:
		return v.b == o.b
	default:
		return true
	}
}

// String renders the value canonically.
//
// Durations use the largest whole unit among s, ms, µs and ns ("60s",
// "250ms") so that the textual form round-trips through time.ParseDuration.
func (v ConfigValue) String() string {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeDuration:
		return formatDuration(v.d)
	case TypeDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// Raw returns the value as a plain Go value for serialization.
func (v ConfigValue) Raw() any {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeInt:
		return v.i
	case TypeDuration:
		return formatDuration(v.d)
	case TypeDouble:
		return v.f
	case TypeBool:
		return v.b
	default:
		return nil
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	case d%time.Millisecond == 0:
		return strconv.FormatInt(int64(d/time.Millisecond), 10) + "ms"
	case d%time.Microsecond == 0:
		return strconv.FormatInt(int64(d/time.Microsecond), 10) + "µs"
	default:
		return strconv.FormatInt(int64(d), 10) + "ns"
	}
}
