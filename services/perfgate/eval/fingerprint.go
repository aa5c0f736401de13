// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/perfgate/services/perfgate/metrics"
	"github.com/AleutianAI/perfgate/services/perfgate/rules"
)

// emptyFingerprintInput is hashed when no samples were used.
const emptyFingerprintInput = "EMPTY"

// Fingerprint hashes a sample set independently of its order.
//
// Description:
//
//	Samples are sorted by (timestamp, duration, status) and each is
//	serialized as "<unix nanos>|<duration nanos>|<status>|". The
//	concatenation is hashed with SHA-256 and rendered as lowercase hex.
//	An empty set hashes the literal "EMPTY".
//
// Thread Safety: Pure function; does not modify samples.
func Fingerprint(samples []metrics.Sample) string {
	if len(samples) == 0 {
		sum := sha256.Sum256([]byte(emptyFingerprintInput))
		return hex.EncodeToString(sum[:])
	}

	sorted := make([]metrics.Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Duration != b.Duration {
			return a.Duration < b.Duration
		}
		return a.Status < b.Status
	})

	var sb strings.Builder
	for _, s := range sorted {
		sb.WriteString(strconv.FormatInt(s.Timestamp.UnixNano(), 10))
		sb.WriteByte('|')
		sb.WriteString(strconv.FormatInt(int64(s.Duration), 10))
		sb.WriteByte('|')
		sb.WriteString(s.Status)
		sb.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// UsedSamples collects the samples of every metric an evaluated rule read.
// Each metric contributes once no matter how many rules read it.
func UsedSamples(set metrics.Set, results []rules.Result) []metrics.Sample {
	used := make(map[string]bool)
	var names []string
	for _, r := range results {
		if !r.Evaluated() {
			continue
		}
		for _, n := range r.UsedMetrics {
			key := strings.ToLower(n)
			if !used[key] {
				used[key] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)

	var samples []metrics.Sample
	for _, n := range names {
		if m, ok := set.Find(n); ok {
			samples = append(samples, m.Samples...)
		}
	}
	return samples
}
