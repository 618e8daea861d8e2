// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"math"
	"sync"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/scope"
)

// MemoryIndex is an in-process DocumentIndex.
//
// # Description
//
// Holds documents and vectors in memory and ranks candidates by cosine
// similarity, normalized into [0,1] the same way Weaviate reports certainty
// ((1+cos)/2), so both backends honor an identical similarity contract.
//
// Used in lightweight mode (no WEAVIATE_SERVICE_URL) and throughout the
// test suite.
//
// # Thread Safety
//
// Safe for concurrent use; upserts take the write lock, queries the read
// lock.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*memoryEntry
	seq  int64
}

type memoryEntry struct {
	doc Document
	seq int64
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]*memoryEntry)}
}

// Upsert adds or replaces the document keyed by doc.ID. A replaced document
// keeps its original insertion sequence so re-ingestion does not reshuffle
// tie-break ordering.
func (m *MemoryIndex) Upsert(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[doc.ID]; ok {
		existing.doc = doc
		return nil
	}
	m.seq++
	m.docs[doc.ID] = &memoryEntry{doc: doc, seq: m.seq}
	return nil
}

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Query returns the top-k documents by cosine similarity satisfying the
// filter. Returns an empty (non-nil) slice when nothing matches.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, filter scope.Filter, k int) ([]datatypes.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 {
		return []datatypes.SearchResult{}, nil
	}

	candidates := make([]scored, 0, len(m.docs))
	for _, entry := range m.docs {
		doc := entry.doc
		if !filter.Matches(doc.SessionID, doc.TableID) {
			continue
		}
		sim, ok := cosineCertainty(vector, doc.Vector)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{
			result: datatypes.SearchResult{
				Content: doc.Content,
				Metadata: datatypes.ResultMetadata{
					SessionID:    doc.SessionID,
					TableID:      doc.TableID,
					SpeakerID:    doc.SpeakerID,
					TimestampMs:  doc.TimestampMs,
					DocumentType: doc.DocumentType,
				},
				Similarity: sim,
			},
			seq: entry.seq,
		})
	}

	sortScored(candidates)
	return project(candidates, k), nil
}

// cosineCertainty computes cosine similarity mapped into [0,1]. Returns
// ok=false for mismatched dimensions or zero vectors.
func cosineCertainty(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (1 + cos) / 2, true
}
