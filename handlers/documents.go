// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/embedding"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/observability"
)

var (
	chunkSize         = 1000
	chunkOverlap      = chunkSize / 10
	defaultSeparators = []string{"\n\n", "\n", " ", ""}
)

// BatchUpserter is the optional bulk path an index may offer. The Weaviate
// index implements it with a single batch import; others fall back to
// per-document upserts.
type BatchUpserter interface {
	UpsertBatch(ctx context.Context, docs []index.Document) error
}

// IngestDocument receives output from the transcription/analysis/bias
// pipelines and adds it to the document index.
//
// # Description
//
// Handles POST /v1/documents. Long content is split into overlapping
// chunks; each chunk is embedded and indexed as an independently
// retrievable unit carrying the request's session/table/speaker metadata.
// Chunk ids derive from the document id and chunk position, so
// re-ingesting the same document updates in place instead of duplicating.
//
// HTTP status:
//   - 201 Created: content indexed, body reports chunks_processed
//   - 400 Bad Request: malformed body or missing fields
//   - 502 Bad Gateway: embedding provider or index failure
func IngestDocument(idx index.DocumentIndex, embedder embedding.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint := observability.EndpointIngest

		ctx, span := tracer.Start(c.Request.Context(), "IngestDocument")
		defer span.End()

		var req datatypes.IngestDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, false)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, false)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.String("document.id", req.DocumentID),
			attribute.String("document.type", string(req.DocumentType)),
		)

		chunksCreated, err := runIngestion(ctx, idx, embedder, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingestion failed")
			slog.Error("Ingestion failed", "documentId", req.DocumentID, "error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(endpoint, false)
				m.RecordError(endpoint, string(datatypes.KindOf(err)))
			}
			c.JSON(statusForKind(datatypes.KindOf(err)), gin.H{"error": "failed to index document"})
			return
		}

		slog.Info("Successfully processed document",
			"documentId", req.DocumentID,
			"documentType", req.DocumentType,
			"chunksProcessed", chunksCreated)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, true)
			m.RecordIngest(string(req.DocumentType), chunksCreated)
		}
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"document_id":      req.DocumentID,
			"chunks_processed": chunksCreated,
		})
	}
}

// runIngestion splits, embeds and indexes one document.
func runIngestion(ctx context.Context, idx index.DocumentIndex, embedder embedding.Provider,
	req datatypes.IngestDocumentRequest) (int, error) {

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(defaultSeparators),
	)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "documentId", req.DocumentID)
		return 0, nil
	}
	slog.Info("Split document into chunks",
		"documentId", req.DocumentID, "chunkCount", len(chunks))

	ingestedAt := time.Now().UnixMilli()
	docs := make([]index.Document, len(chunks))
	for i, chunk := range chunks {
		vector, err := embedder.Embed(ctx, chunk)
		if err != nil {
			return 0, err
		}
		docs[i] = index.Document{
			ID:           fmt.Sprintf("%s_part_%d", req.DocumentID, i+1),
			Content:      chunk,
			Vector:       vector,
			SessionID:    req.SessionID,
			TableID:      req.TableID,
			SpeakerID:    req.SpeakerID,
			TimestampMs:  req.TimestampMs,
			DocumentType: req.DocumentType,
			IngestedAt:   ingestedAt,
		}
	}

	if batcher, ok := idx.(BatchUpserter); ok {
		if err := batcher.UpsertBatch(ctx, docs); err != nil {
			return 0, err
		}
		return len(docs), nil
	}

	for _, doc := range docs {
		if err := idx.Upsert(ctx, doc); err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}
