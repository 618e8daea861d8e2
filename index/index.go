// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index stores embeddings and metadata for retrievable excerpts and
// answers similarity queries scoped by session/table.
package index

import (
	"context"
	"sort"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/scope"
)

// Document is one retrievable unit with a precomputed embedding.
//
// ID is stable across re-ingestion of the same upstream unit, so upserts
// update in place instead of accumulating duplicates.
type Document struct {
	ID           string
	Content      string
	Vector       []float32
	SessionID    string
	TableID      *int
	SpeakerID    string
	TimestampMs  *int64
	DocumentType datatypes.DocumentType
	IngestedAt   int64
}

// DocumentIndex is the contract for the vector store backing retrieval.
//
// # Description
//
// Upsert adds or updates a document incrementally; no rebuild is required
// as new transcription/analysis output arrives. Query returns the top-k
// documents by similarity satisfying the filter, each with its similarity
// score in [0,1]. Ties in similarity break by most-recent timestamp, then
// by insertion order, so result ordering is deterministic.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; queries are read-only
// and may run with unbounded parallelism.
type DocumentIndex interface {
	Upsert(ctx context.Context, doc Document) error
	Query(ctx context.Context, vector []float32, filter scope.Filter, k int) ([]datatypes.SearchResult, error)
}

// scored pairs a candidate result with its insertion sequence for
// deterministic tie-breaking.
type scored struct {
	result datatypes.SearchResult
	seq    int64
}

// sortScored orders candidates by the index contract: similarity descending,
// then timestamp descending, then insertion order ascending.
func sortScored(entries []scored) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].result.Similarity != entries[j].result.Similarity {
			return entries[i].result.Similarity > entries[j].result.Similarity
		}
		ti, tj := int64(-1), int64(-1)
		if entries[i].result.Metadata.TimestampMs != nil {
			ti = *entries[i].result.Metadata.TimestampMs
		}
		if entries[j].result.Metadata.TimestampMs != nil {
			tj = *entries[j].result.Metadata.TimestampMs
		}
		if ti != tj {
			return ti > tj
		}
		return entries[i].seq < entries[j].seq
	})
}

// project extracts the top-k results from sorted candidates. The returned
// slice is always non-nil; "nothing matched" is an empty sequence, not an
// error.
func project(entries []scored, k int) []datatypes.SearchResult {
	if k > len(entries) {
		k = len(entries)
	}
	results := make([]datatypes.SearchResult, 0, k)
	for _, e := range entries[:k] {
		results = append(results, e.result)
	}
	return results
}
