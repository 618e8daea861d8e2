// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and response types for the chat gateway.
// For the persisted conversation model, see conversation.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes is the maximum size of a single chat message.
// Checked on byte length, not rune count, to bound memory per request.
const MaxMessageContentBytes = 32 * 1024 // 32KB

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on a string field.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is the body of POST /v1/chat/stream.
//
// # Fields
//
//   - Message: Required. The user's question. Max 32KB.
//   - ConversationID: Optional. Continue an existing thread. When absent,
//     the conversation for the scope key is reused or created lazily.
//   - Scope: Required. One of global, session, table.
//   - SessionID: Required for session/table scope, forbidden for global.
//   - TableID: Required for table scope, forbidden otherwise.
//
// # Validation
//
// Structural checks use go-playground/validator tags; the scope/identifier
// combination rule lives in ValidateScopeIdentifiers so it is enforced in
// one place for both requests and conversation construction.
type ChatRequest struct {
	Message        string `json:"message" validate:"required,maxbytes"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,uuid4"`
	Scope          Scope  `json:"scope" validate:"required,oneof=global session table"`
	SessionID      string `json:"session_id,omitempty"`
	TableID        *int   `json:"table_id,omitempty"`
}

// Validate validates the ChatRequest fields, including the scope invariant.
//
// Returns a *Error with KindInvalidScope for scope/identifier violations,
// or the validator error for structural violations.
func (r *ChatRequest) Validate() error {
	if err := chatValidate.Struct(r); err != nil {
		return err
	}
	return ValidateScopeIdentifiers(r.Scope, r.SessionID, r.TableID)
}

// =============================================================================
// Chat Response
// =============================================================================

// ChatResponse is one element of the gateway's response stream.
//
// Partial responses carry Streaming=true and incremental Message.Content.
// The terminal response carries the complete assistant message with its
// finalized sources and Streaming=false. ConversationID is always present,
// even when the request omitted it.
type ChatResponse struct {
	Message        ChatMessage `json:"message"`
	ConversationID string      `json:"conversation_id"`
	Streaming      bool        `json:"streaming,omitempty"`
}

// =============================================================================
// Stream Events
// =============================================================================

// StreamEvent is the SSE envelope for chat streaming.
//
// # Description
//
// Every event is assigned an id, a timestamp and a SHA-256 hash chained to
// the previous event, giving clients an integrity trail over streamed
// content. Event types:
//
//   - "status": progress message (Message field)
//   - "token": partial assistant content (Content field, Streaming true)
//   - "done": terminal event with the complete ChatResponse
//   - "error": terminal failure (ErrorKind + Error fields)
//
// Citations are only attached to the terminal done event, never mid-stream.
type StreamEvent struct {
	Id             string        `json:"id,omitempty"`
	Type           string        `json:"type"`
	CreatedAt      int64         `json:"created_at,omitempty"`
	Content        string        `json:"content,omitempty"`
	Message        string        `json:"message,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	ConversationId string        `json:"conversation_id,omitempty"`
	Streaming      bool          `json:"streaming,omitempty"`
	Response       *ChatResponse `json:"response,omitempty"`
	Hash           string        `json:"hash,omitempty"`
	PrevHash       string        `json:"prev_hash,omitempty"`
}

// =============================================================================
// Document Ingest Request
// =============================================================================

// IngestDocumentRequest is the body of POST /v1/documents, produced by the
// upstream transcription/analysis/bias pipelines.
//
// Long content is split into chunks before indexing; each chunk becomes an
// independently retrievable unit sharing this request's metadata.
type IngestDocumentRequest struct {
	DocumentID   string       `json:"document_id" validate:"required"`
	Content      string       `json:"content" validate:"required"`
	DocumentType DocumentType `json:"document_type" validate:"required,oneof=transcription analysis bias_detection"`
	SessionID    string       `json:"session_id" validate:"required"`
	TableID      *int         `json:"table_id,omitempty"`
	SpeakerID    string       `json:"speaker_id,omitempty"`
	TimestampMs  *int64       `json:"timestamp_ms,omitempty"`
}

// Validate validates the IngestDocumentRequest fields.
func (r *IngestDocumentRequest) Validate() error {
	return chatValidate.Struct(r)
}
