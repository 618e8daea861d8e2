// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Encapsulates the marshal/unmarshal pattern required to convert Weaviate's
// dynamic response (map[string]models.JSONObject) into a strongly-typed Go
// struct. The target type T must have json tags matching the expected
// response shape.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Types
// =============================================================================

// CafeDocumentQueryResponse is the typed shape of a CafeDocument query.
type CafeDocumentQueryResponse struct {
	Get struct {
		CafeDocument []CafeDocumentResult `json:"CafeDocument"`
	} `json:"Get"`
}

// CafeDocumentResult is a single retrieved document chunk.
type CafeDocumentResult struct {
	Content      string `json:"content"`
	SessionID    string `json:"session_id"`
	TableID      *int   `json:"table_id"`
	SpeakerID    string `json:"speaker_id"`
	TimestampMs  *int64 `json:"timestamp_ms"`
	DocumentType string `json:"document_type"`
	IngestedAt   int64  `json:"ingested_at"`
	Additional   struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// CafeConversationQueryResponse is the typed shape of a CafeConversation query.
type CafeConversationQueryResponse struct {
	Get struct {
		CafeConversation []CafeConversationResult `json:"CafeConversation"`
	} `json:"Get"`
}

// CafeConversationResult is a single stored conversation header.
type CafeConversationResult struct {
	ConversationID string `json:"conversation_id"`
	Scope          string `json:"scope"`
	SessionID      string `json:"session_id"`
	TableID        *int   `json:"table_id"`
	CreatedAt      int64  `json:"created_at"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// CafeChatMessageQueryResponse is the typed shape of a CafeChatMessage query.
type CafeChatMessageQueryResponse struct {
	Get struct {
		CafeChatMessage []CafeChatMessageResult `json:"CafeChatMessage"`
	} `json:"Get"`
}

// CafeChatMessageResult is a single stored message.
type CafeChatMessageResult struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	SourcesJSON    string `json:"sources_json"`
	CreatedAt      int64  `json:"created_at"`
}

// =============================================================================
// Property Structs
// =============================================================================

// CafeDocumentProperties are the properties for creating a CafeDocument object.
type CafeDocumentProperties struct {
	Content      string
	SessionID    string
	TableID      *int
	SpeakerID    string
	TimestampMs  *int64
	DocumentType DocumentType
	IngestedAt   int64
}

// ToMap converts CafeDocumentProperties to the map format required by
// Weaviate's WithProperties() method. Optional fields are omitted rather
// than written as zero values so filters on them stay meaningful.
func (p *CafeDocumentProperties) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"content":       p.Content,
		"session_id":    p.SessionID,
		"document_type": string(p.DocumentType),
		"ingested_at":   p.IngestedAt,
	}
	if p.TableID != nil {
		m["table_id"] = *p.TableID
	}
	if p.SpeakerID != "" {
		m["speaker_id"] = p.SpeakerID
	}
	if p.TimestampMs != nil {
		m["timestamp_ms"] = *p.TimestampMs
	}
	return m
}

// CafeConversationProperties are the properties for creating a
// CafeConversation object.
type CafeConversationProperties struct {
	ConversationID string
	Scope          Scope
	SessionID      string
	TableID        *int
	CreatedAt      int64
}

// ToMap converts CafeConversationProperties for the Weaviate client.
func (p *CafeConversationProperties) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"conversation_id": p.ConversationID,
		"scope":           string(p.Scope),
		"created_at":      p.CreatedAt,
	}
	if p.SessionID != "" {
		m["session_id"] = p.SessionID
	}
	if p.TableID != nil {
		m["table_id"] = *p.TableID
	}
	return m
}

// CafeChatMessageProperties are the properties for creating a
// CafeChatMessage object. Sources travel as a JSON blob because they are
// opaque to the store and never filtered on.
type CafeChatMessageProperties struct {
	MessageID      string
	ConversationID string
	Role           Role
	Content        string
	SourcesJSON    string
	CreatedAt      int64
}

// ToMap converts CafeChatMessageProperties for the Weaviate client.
func (p *CafeChatMessageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"message_id":      p.MessageID,
		"conversation_id": p.ConversationID,
		"role":            string(p.Role),
		"content":         p.Content,
		"sources_json":    p.SourcesJSON,
		"created_at":      p.CreatedAt,
	}
}

// =============================================================================
// Schemas
// =============================================================================

func GetCafeDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "CafeDocument",
		Description: "A retrievable excerpt from a recorded World Cafe session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The excerpt text.",
				Tokenization: "word",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The recorded session this excerpt belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "table_id",
				DataType:        []string{"int"},
				Description:     "The table within the session, if table-scoped.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "speaker_id",
				DataType:        []string{"text"},
				Description:     "The speaker, when the upstream producer attributes one.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "timestamp_ms",
				DataType:        []string{"number"},
				Description:     "Offset into the session recording, in milliseconds.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "document_type",
				DataType:        []string{"text"},
				Description:     "transcription, analysis or bias_detection.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was indexed.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetCafeConversationSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "CafeConversation",
		Description: "A chat conversation thread bound to a retrieval scope.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "conversation_id",
				DataType:        []string{"text"},
				Description:     "Opaque unique conversation id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "scope",
				DataType:        []string{"text"},
				Description:     "global, session or table.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Bound session for session/table scope.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "table_id",
				DataType:        []string{"int"},
				Description:     "Bound table for table scope.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Creation timestamp (Unix ms).",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetCafeChatMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "CafeChatMessage",
		Description: "An immutable message appended to a conversation.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "message_id",
				DataType:        []string{"text"},
				Description:     "Unique message id within the conversation.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "conversation_id",
				DataType:        []string{"text"},
				Description:     "Back-reference to the owning conversation.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "user or assistant.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The message text.",
				Tokenization: "word",
			},
			{
				Name:        "sources_json",
				DataType:    []string{"text"},
				Description: "JSON-encoded citation list (assistant messages).",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Append timestamp (Unix ms), non-decreasing per conversation.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the chat-core classes if they do not exist.
// Missing classes are created; existing ones are left untouched.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetCafeDocumentSchema,
		GetCafeConversationSchema,
		GetCafeChatMessageSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// The client returns an error for a missing class; create it.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
