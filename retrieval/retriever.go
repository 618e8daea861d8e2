// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval turns a query and a resolved scope filter into ranked
// search results from the document index.
package retrieval

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/embedding"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/scope"
)

var tracer = otel.Tracer("eyescafe.chatcore.retrieval")

const (
	// maxEmbedAttempts bounds retries of the (idempotent, read-only)
	// embedding call. Message appends are never retried.
	maxEmbedAttempts = 3

	// initialRetryDelay is the delay before the first retry. Subsequent
	// retries double it (1s, 2s).
	initialRetryDelay = 1 * time.Second

	// defaultTopK is the retrieval depth when RETRIEVAL_TOP_K is unset.
	defaultTopK = 8

	// maxEmbedLength caps how many bytes of a query are embedded.
	maxEmbedLength = 2000
)

// Retriever embeds queries and ranks matching documents.
//
// # Thread Safety
//
// Safe for concurrent use; retrieval is read-only and requires no locking.
type Retriever struct {
	index    index.DocumentIndex
	embedder embedding.Provider
	topK     int
}

// NewRetriever creates a Retriever over the given index and embedder.
// Retrieval depth comes from RETRIEVAL_TOP_K (default 8).
func NewRetriever(idx index.DocumentIndex, embedder embedding.Provider) *Retriever {
	topK := defaultTopK
	if v := os.Getenv("RETRIEVAL_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		} else {
			slog.Warn("Invalid RETRIEVAL_TOP_K, using default", "provided", v, "default", defaultTopK)
		}
	}

	return &Retriever{index: idx, embedder: embedder, topK: topK}
}

// TopK returns the configured retrieval depth.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns ranked search results for the query within the filter.
//
// # Description
//
// Embeds the query (with bounded retries, since embedding is idempotent),
// queries the document index and returns results sorted descending by
// similarity, never more than the configured top-k. An empty sequence is a
// valid, common outcome; "no relevant context" is not a failure.
//
// # Errors
//
//   - KindUpstreamError / KindUpstreamTimeout: embedding failed after all
//     retries.
//   - KindIndexUnavailable: the index could not be queried; callers are
//     expected to degrade to a no-context answer.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter scope.Filter) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.filter", filter.String()),
		attribute.Int("retrieval.top_k", r.topK),
	)

	if len(query) > maxEmbedLength {
		// Back up to a rune boundary so the provider never sees broken UTF-8.
		end := maxEmbedLength
		for end > 0 && !utf8.RuneStart(query[end]) {
			end--
		}
		slog.Debug("Truncated query for embedding", "originalLen", len(query), "truncatedLen", end)
		query = query[:end]
	}

	vector, err := r.embedWithRetry(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	results, err := r.index.Query(ctx, vector, filter, r.topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		return nil, err
	}

	// The index contract already orders results; keep the guarantee local
	// so a misbehaving backend cannot leak unordered output.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if results == nil {
		results = []datatypes.SearchResult{}
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	slog.Debug("Retrieved documents", "count", len(results), "filter", filter.String())
	return results, nil
}

// embedWithRetry embeds text, retrying transient failures with exponential
// backoff. Invalid-input style failures are not distinguished here; the
// attempt budget is small enough that retrying everything is harmless.
func (r *Retriever) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 1; attempt <= maxEmbedAttempts; attempt++ {
		vector, err := r.embedder.Embed(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if attempt < maxEmbedAttempts {
			slog.Warn("Embedding attempt failed, retrying",
				"attempt", attempt,
				"maxAttempts", maxEmbedAttempts,
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, datatypes.WrapError(datatypes.KindUpstreamTimeout, "embedding canceled", ctx.Err())
			}
		}
	}

	return nil, lastErr
}
