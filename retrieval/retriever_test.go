// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/scope"
)

// mockEmbedder returns a fixed vector or a scripted sequence of errors,
// recording the text it was last asked to embed.
type mockEmbedder struct {
	vector   []float32
	failures int32
	err      error
	calls    atomic.Int32
	lastText string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.lastText = text
	call := m.calls.Add(1)
	if call <= m.failures {
		return nil, m.err
	}
	return m.vector, nil
}

// failingIndex always reports the index as unreachable.
type failingIndex struct{}

func (failingIndex) Upsert(_ context.Context, _ index.Document) error { return nil }

func (failingIndex) Query(_ context.Context, _ []float32, _ scope.Filter, _ int) ([]datatypes.SearchResult, error) {
	return nil, datatypes.NewError(datatypes.KindIndexUnavailable, "index unreachable")
}

// =============================================================================
// Retrieve Tests
// =============================================================================

func TestRetrieve_EmptyIndexYieldsEmptyNotError(t *testing.T) {
	idx := index.NewMemoryIndex()
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	r := NewRetriever(idx, embedder)

	results, err := r.Retrieve(context.Background(), "anything", scope.Filter{})
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRetrieve_OrderedAndScoped(t *testing.T) {
	idx := index.NewMemoryIndex()
	docs := []index.Document{
		{ID: "close", Vector: []float32{1, 0.05}, SessionID: "S1", Content: "close"},
		{ID: "far", Vector: []float32{0, 1}, SessionID: "S1", Content: "far"},
		{ID: "other-session", Vector: []float32{1, 0}, SessionID: "S2", Content: "other"},
	}
	for _, d := range docs {
		require.NoError(t, idx.Upsert(context.Background(), d))
	}

	embedder := &mockEmbedder{vector: []float32{1, 0}}
	r := NewRetriever(idx, embedder)

	results, err := r.Retrieve(context.Background(), "query", scope.Filter{SessionID: "S1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Content)
	assert.Equal(t, "far", results[1].Content)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestRetrieve_HonorsTopKFromEnv(t *testing.T) {
	t.Setenv("RETRIEVAL_TOP_K", "2")

	idx := index.NewMemoryIndex()
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Upsert(context.Background(), index.Document{
			ID:        string(rune('a' + i)),
			Vector:    []float32{1, float32(i) * 0.01},
			SessionID: "S1",
		}))
	}

	r := NewRetriever(idx, &mockEmbedder{vector: []float32{1, 0}})
	assert.Equal(t, 2, r.TopK())

	results, err := r.Retrieve(context.Background(), "query", scope.Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieve_TruncatesLongQueriesOnRuneBoundaries(t *testing.T) {
	idx := index.NewMemoryIndex()
	embedder := &mockEmbedder{vector: []float32{1, 0}}
	r := NewRetriever(idx, embedder)

	query := strings.Repeat("世", 1200)
	_, err := r.Retrieve(context.Background(), query, scope.Filter{})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(embedder.lastText), maxEmbedLength)
	assert.True(t, utf8.ValidString(embedder.lastText),
		"truncation must never hand the provider broken UTF-8")
}

func TestRetrieve_RetriesTransientEmbeddingFailure(t *testing.T) {
	idx := index.NewMemoryIndex()
	embedder := &mockEmbedder{
		vector:   []float32{1, 0},
		failures: 1,
		err:      datatypes.NewError(datatypes.KindUpstreamError, "embedding hiccup"),
	}
	r := NewRetriever(idx, embedder)

	_, err := r.Retrieve(context.Background(), "query", scope.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), embedder.calls.Load())
}

func TestRetrieve_CanceledWhileRetryingMapsToTimeout(t *testing.T) {
	idx := index.NewMemoryIndex()
	embedder := &mockEmbedder{
		failures: maxEmbedAttempts,
		err:      datatypes.NewError(datatypes.KindUpstreamError, "embedding down"),
	}
	r := NewRetriever(idx, embedder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, "query", scope.Filter{})
	require.Error(t, err)
	assert.True(t, datatypes.IsKind(err, datatypes.KindUpstreamTimeout))
	assert.Equal(t, int32(1), embedder.calls.Load(), "no further attempts after cancellation")
}

func TestRetrieve_IndexUnavailablePropagates(t *testing.T) {
	r := NewRetriever(failingIndex{}, &mockEmbedder{vector: []float32{1, 0}})

	_, err := r.Retrieve(context.Background(), "query", scope.Filter{})
	require.Error(t, err)
	assert.True(t, datatypes.IsKind(err, datatypes.KindIndexUnavailable))
}
