// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embedding abstracts the external embedding provider consumed by
// retrieval and ingestion.
package embedding

import (
	"context"
)

// Provider computes vector embeddings for text.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; retrieval runs with
// unbounded parallelism across requests.
//
// # Errors
//
// Failures surface as *datatypes.Error with KindUpstreamError, or
// KindUpstreamTimeout when the context deadline was exceeded. Embedding is
// read-only and idempotent, so callers may retry a bounded number of times.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
