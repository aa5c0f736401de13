// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perfgate

import "errors"

// Sentinel errors for the perfgate service.
var (
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDependency indicates a required collaborator was not provided.
	ErrNilDependency = errors.New("required dependency is nil")

	// ErrNoBaselineStore indicates a baseline operation on a service built
	// without a store.
	ErrNoBaselineStore = errors.New("baseline store not configured")

	// ErrBatchTooLarge indicates a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch too large")
)
