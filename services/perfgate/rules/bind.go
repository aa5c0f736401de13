// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"fmt"

	"github.com/AleutianAI/perfgate/services/perfgate/profile"
)

// Bind returns r with its parameters taken from the resolved configuration.
//
// Description:
//
//	A Threshold with ParamKey k reads k. A Range with ParamKey k reads
//	"k.min" and "k.max" independently. Keys absent from cfg leave the
//	rule's own values in place. Int and Double values convert directly and
//	Duration values are read in milliseconds.
//
// Outputs:
//   - Rule: The bound rule. Never mutates r.
//   - error: ErrMalformedRule wrapping profile.ErrNotNumeric if a bound
//     key holds a String or Bool.
func Bind(r Rule, cfg profile.ResolvedConfiguration) (Rule, error) {
	switch v := r.(type) {
	case Threshold:
		if v.ParamKey == "" {
			return v, nil
		}
		f, ok, err := lookupFloat(cfg, v.ParamKey)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrMalformedRule, v.ID, err)
		}
		if ok {
			v.Value = f
		}
		return v, nil

	case Range:
		if v.ParamKey == "" {
			return v, nil
		}
		lo, ok, err := lookupFloat(cfg, v.ParamKey+".min")
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrMalformedRule, v.ID, err)
		}
		if ok {
			v.Min = lo
		}
		hi, ok, err := lookupFloat(cfg, v.ParamKey+".max")
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", ErrMalformedRule, v.ID, err)
		}
		if ok {
			v.Max = hi
		}
		return v, nil

	default:
		return r, nil
	}
}

func lookupFloat(cfg profile.ResolvedConfiguration, key profile.ConfigKey) (float64, bool, error) {
	val, ok := cfg.Get(key)
	if !ok {
		return 0, false, nil
	}
	f, err := val.Float()
	if err != nil {
		return 0, false, fmt.Errorf("param %s: %w", key, err)
	}
	return f, true, nil
}
