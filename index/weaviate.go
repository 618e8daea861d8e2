// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/scope"
)

var tracer = otel.Tracer("eyescafe.chatcore.index")

// documentClass is the Weaviate class holding retrievable excerpts.
const documentClass = "CafeDocument"

// WeaviateIndex is the Weaviate-backed DocumentIndex.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client handles connection pooling.
type WeaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex creates a DocumentIndex over the given client. The
// CafeDocument schema must already exist (see datatypes.EnsureWeaviateSchema).
func NewWeaviateIndex(client *weaviate.Client) *WeaviateIndex {
	return &WeaviateIndex{client: client}
}

// objectID derives the stable Weaviate object id for a document, so
// re-upserting the same upstream unit updates in place.
func objectID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

// Upsert adds or updates a document with its precomputed embedding.
//
// Uses the batch importer even for single documents: Weaviate batch items
// carrying an explicit id overwrite existing objects, which gives upsert
// semantics without a read-before-write. No rebuild is required, so
// upstream producers can push output continuously.
func (w *WeaviateIndex) Upsert(ctx context.Context, doc Document) error {
	return w.UpsertBatch(ctx, []Document{doc})
}

// UpsertBatch imports documents in one Weaviate batch request.
func (w *WeaviateIndex) UpsertBatch(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.UpsertBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("upsert.count", len(docs)))

	if len(docs) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(docs))
	for i, doc := range docs {
		if doc.IngestedAt == 0 {
			doc.IngestedAt = time.Now().UnixMilli()
		}
		props := datatypes.CafeDocumentProperties{
			Content:      doc.Content,
			SessionID:    doc.SessionID,
			TableID:      doc.TableID,
			SpeakerID:    doc.SpeakerID,
			TimestampMs:  doc.TimestampMs,
			DocumentType: doc.DocumentType,
			IngestedAt:   doc.IngestedAt,
		}
		objects[i] = &models.Object{
			Class:      documentClass,
			ID:         strfmt.UUID(objectID(doc.ID)),
			Vector:     doc.Vector,
			Properties: props.ToMap(),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return datatypes.WrapError(datatypes.KindIndexUnavailable, "failed to upsert documents", err)
	}

	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
			return datatypes.NewError(datatypes.KindIndexUnavailable, "weaviate rejected batch items")
		}
	}

	return nil
}

// Query returns the top-k documents by vector similarity satisfying the
// filter, ordered by certainty descending with deterministic tie-breaks.
//
// A query matching nothing returns an empty (non-nil) slice. Transport
// failures surface as KindIndexUnavailable so callers can degrade to a
// no-context answer instead of failing the request.
func (w *WeaviateIndex) Query(ctx context.Context, vector []float32, filter scope.Filter, k int) ([]datatypes.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("query.k", k))

	if k <= 0 {
		return []datatypes.SearchResult{}, nil
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "session_id"},
		{Name: "table_id"},
		{Name: "speaker_id"},
		{Name: "timestamp_ms"},
		{Name: "document_type"},
		{Name: "ingested_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	query := w.client.GraphQL().Get().
		WithClassName(documentClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k)

	if where := buildWhere(filter); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return nil, datatypes.WrapError(datatypes.KindIndexUnavailable, "weaviate query failed", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CafeDocumentQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, datatypes.WrapError(datatypes.KindIndexUnavailable, "failed to parse query response", err)
	}

	candidates := make([]scored, 0, len(parsed.Get.CafeDocument))
	for _, d := range parsed.Get.CafeDocument {
		var sim float64
		if d.Additional.Certainty != nil {
			sim = float64(*d.Additional.Certainty)
		}
		candidates = append(candidates, scored{
			result: datatypes.SearchResult{
				Content: d.Content,
				Metadata: datatypes.ResultMetadata{
					SessionID:    d.SessionID,
					TableID:      d.TableID,
					SpeakerID:    d.SpeakerID,
					TimestampMs:  d.TimestampMs,
					DocumentType: datatypes.DocumentType(d.DocumentType),
				},
				Similarity: sim,
			},
			seq: d.IngestedAt,
		})
	}

	sortScored(candidates)
	results := project(candidates, k)
	span.SetAttributes(attribute.Int("query.results", len(results)))
	return results, nil
}

// buildWhere compiles a scope filter into a Weaviate where clause.
// Returns nil for the match-all (global) filter.
func buildWhere(filter scope.Filter) *filters.WhereBuilder {
	if filter.MatchesAll() {
		return nil
	}

	sessionFilter := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(filter.SessionID)

	if filter.TableID == nil {
		return sessionFilter
	}

	tableFilter := filters.Where().
		WithPath([]string{"table_id"}).
		WithOperator(filters.Equal).
		WithValueInt(int64(*filter.TableID))

	return filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{sessionFilter, tableFilter})
}
