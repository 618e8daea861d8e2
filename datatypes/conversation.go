// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the chat-core service.
//
// This file contains the persisted conversation model: ChatConversation,
// ChatMessage and ChatSource. For request/response wire types, see chat.go.
package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Scope
// =============================================================================

// Scope is the breadth of context a conversation is grounded in: every
// recorded session, one session, or one table within a session.
type Scope string

const (
	// ScopeGlobal grounds a conversation in all recorded sessions.
	ScopeGlobal Scope = "global"

	// ScopeSession grounds a conversation in a single session (all tables).
	ScopeSession Scope = "session"

	// ScopeTable grounds a conversation in a single table of a session.
	ScopeTable Scope = "table"
)

// Valid reports whether s is one of the three defined scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeSession, ScopeTable:
		return true
	}
	return false
}

// =============================================================================
// Roles and document types
// =============================================================================

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DocumentType tags a retrievable unit (and the citation derived from it)
// with the upstream producer that created it.
type DocumentType string

const (
	// DocTranscription is a line of a table transcript.
	DocTranscription DocumentType = "transcription"

	// DocAnalysis is a finding from the conversation analysis pipeline.
	DocAnalysis DocumentType = "analysis"

	// DocBiasDetection is a finding from the bias-detection pipeline.
	DocBiasDetection DocumentType = "bias_detection"
)

// Valid reports whether t is one of the three defined document types.
func (t DocumentType) Valid() bool {
	switch t {
	case DocTranscription, DocAnalysis, DocBiasDetection:
		return true
	}
	return false
}

// =============================================================================
// ChatConversation
// =============================================================================

// ChatConversation is a persisted conversation thread.
//
// # Description
//
// A conversation is bound at creation to a scope and the identifiers that
// scope requires; the binding is immutable afterwards. Messages are held in
// insertion order and are never reordered or edited.
//
// # Invariants
//
//   - Scope "session" requires SessionID set and TableID nil.
//   - Scope "table" requires both SessionID and TableID set.
//   - Scope "global" requires both absent.
//   - Messages[i].CreatedAt <= Messages[i+1].CreatedAt.
//
// Use NewChatConversation to construct values; it is the single place the
// scope invariant is enforced.
//
// # Thread Safety
//
// ChatConversation is not synchronized. The conversation manager serializes
// writers per conversation; readers receive copies or must not mutate.
type ChatConversation struct {
	ID        string        `json:"id"`
	Scope     Scope         `json:"scope"`
	SessionID string        `json:"session_id,omitempty"`
	TableID   *int          `json:"table_id,omitempty"`
	CreatedAt int64         `json:"created_at"`
	Messages  []ChatMessage `json:"messages"`
}

// NewChatConversation creates a conversation for the given scope after
// validating the scope invariant.
//
// # Inputs
//
//   - scope: One of global, session, table.
//   - sessionID: Required for session and table scope, forbidden for global.
//   - tableID: Required for table scope, forbidden otherwise.
//
// # Outputs
//
//   - *ChatConversation: New conversation with a generated id, the current
//     timestamp and an empty message sequence.
//   - error: *Error with KindInvalidScope for any malformed combination.
func NewChatConversation(scope Scope, sessionID string, tableID *int) (*ChatConversation, error) {
	if err := ValidateScopeIdentifiers(scope, sessionID, tableID); err != nil {
		return nil, err
	}

	return &ChatConversation{
		ID:        uuid.New().String(),
		Scope:     scope,
		SessionID: sessionID,
		TableID:   tableID,
		CreatedAt: time.Now().UnixMilli(),
		Messages:  []ChatMessage{},
	}, nil
}

// ValidateScopeIdentifiers checks the "scope implies required identifiers"
// rule shared by conversation creation and request validation.
//
// Returns a *Error with KindInvalidScope describing the first violation, or
// nil if the combination is well formed.
func ValidateScopeIdentifiers(scope Scope, sessionID string, tableID *int) error {
	switch scope {
	case ScopeGlobal:
		if sessionID != "" || tableID != nil {
			return NewError(KindInvalidScope, "global scope must not carry session_id or table_id")
		}
	case ScopeSession:
		if sessionID == "" {
			return NewError(KindInvalidScope, "session scope requires session_id")
		}
		if tableID != nil {
			return NewError(KindInvalidScope, "session scope must not carry table_id")
		}
	case ScopeTable:
		if sessionID == "" {
			return NewError(KindInvalidScope, "table scope requires session_id")
		}
		if tableID == nil {
			return NewError(KindInvalidScope, "table scope requires table_id")
		}
	default:
		return NewError(KindInvalidScope, fmt.Sprintf("unknown scope %q", scope))
	}
	return nil
}

// ScopeKey returns the canonical key identifying the single active thread
// for a (scope, sessionId, tableId) combination.
func (c *ChatConversation) ScopeKey() string {
	return ScopeKeyFor(c.Scope, c.SessionID, c.TableID)
}

// ScopeKeyFor builds the scope key without a conversation value.
func ScopeKeyFor(scope Scope, sessionID string, tableID *int) string {
	if tableID != nil {
		return fmt.Sprintf("%s|%s|%d", scope, sessionID, *tableID)
	}
	return fmt.Sprintf("%s|%s|", scope, sessionID)
}

// MatchesScope reports whether a requested scope/identifier combination
// agrees with the conversation's stored binding.
func (c *ChatConversation) MatchesScope(scope Scope, sessionID string, tableID *int) bool {
	if c.Scope != scope || c.SessionID != sessionID {
		return false
	}
	if (c.TableID == nil) != (tableID == nil) {
		return false
	}
	if c.TableID != nil && *c.TableID != *tableID {
		return false
	}
	return true
}

// LastCreatedAt returns the createdAt of the newest message, or 0 for an
// empty conversation. Messages are append-only, so the newest is the last.
func (c *ChatConversation) LastCreatedAt() int64 {
	if len(c.Messages) == 0 {
		return 0
	}
	return c.Messages[len(c.Messages)-1].CreatedAt
}

// =============================================================================
// ChatMessage
// =============================================================================

// ChatMessage is a single immutable turn inside a conversation.
//
// # Fields
//
//   - ID: Unique within the conversation (UUID v4).
//   - ConversationID: Back-reference to the owning conversation.
//   - Role: "user" or "assistant".
//   - Content: The message text.
//   - Sources: Citations attached to assistant messages. Always non-nil on
//     assistant messages so clients can distinguish "answered without
//     citations" (empty list) from "not yet answered" (absent message).
//   - CreatedAt: Unix milliseconds; non-decreasing within a conversation.
type ChatMessage struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	Sources        []ChatSource `json:"sources"`
	CreatedAt      int64        `json:"created_at"`
}

// NewUserMessage creates a user message with a generated id. CreatedAt is
// assigned by the conversation manager at append time.
func NewUserMessage(conversationID, content string) ChatMessage {
	return ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
	}
}

// NewAssistantMessage creates an assistant message with its finalized
// citation list. A nil sources slice is normalized to an empty one.
func NewAssistantMessage(conversationID, content string, sources []ChatSource) ChatMessage {
	if sources == nil {
		sources = []ChatSource{}
	}
	return ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        content,
		Sources:        sources,
	}
}

// =============================================================================
// ChatSource
// =============================================================================

// ChatSource is a citation: a structured pointer from an assistant message
// back to the excerpt and location that justified it.
//
// Sources are derived from SearchResults at composition time and are never
// created independently. Type is the variant tag; the document-type-specific
// behavior (deep-link derivation) is the pure function SourceURL.
type ChatSource struct {
	Type        DocumentType `json:"type"`
	SessionID   string       `json:"session_id"`
	TableID     *int         `json:"table_id,omitempty"`
	SpeakerID   string       `json:"speaker_id,omitempty"`
	TimestampMs *int64       `json:"timestamp_ms,omitempty"`
	Excerpt     string       `json:"excerpt"`
	URL         string       `json:"url"`
}

// SourceURL derives the deep link into the origin of a retrieved excerpt.
//
// # Description
//
// The derivation is deterministic and keyed on the document type:
//
//   - transcription: transcript view, positioned at the timestamp when one
//     is known: /sessions/{id}/tables/{n}/transcript?t={seconds}
//   - analysis: the session analysis report: /sessions/{id}/reports/analysis
//   - bias_detection: the bias report: /sessions/{id}/reports/bias
//
// Table-scoped reports get a table query parameter so the report view can
// pre-filter. Unknown document types fall back to the session page.
func SourceURL(docType DocumentType, sessionID string, tableID *int, timestampMs *int64) string {
	switch docType {
	case DocTranscription:
		base := fmt.Sprintf("/sessions/%s/transcript", sessionID)
		if tableID != nil {
			base = fmt.Sprintf("/sessions/%s/tables/%d/transcript", sessionID, *tableID)
		}
		if timestampMs != nil {
			return fmt.Sprintf("%s?t=%d", base, *timestampMs/1000)
		}
		return base
	case DocAnalysis:
		return reportURL(sessionID, "analysis", tableID)
	case DocBiasDetection:
		return reportURL(sessionID, "bias", tableID)
	default:
		return fmt.Sprintf("/sessions/%s", sessionID)
	}
}

func reportURL(sessionID, report string, tableID *int) string {
	if tableID != nil {
		return fmt.Sprintf("/sessions/%s/reports/%s?table=%d", sessionID, report, *tableID)
	}
	return fmt.Sprintf("/sessions/%s/reports/%s", sessionID, report)
}

// =============================================================================
// SearchResult
// =============================================================================

// ResultMetadata locates a retrieved excerpt in the recorded corpus.
type ResultMetadata struct {
	SessionID    string       `json:"session_id"`
	TableID      *int         `json:"table_id,omitempty"`
	SpeakerID    string       `json:"speaker_id,omitempty"`
	TimestampMs  *int64       `json:"timestamp_ms,omitempty"`
	DocumentType DocumentType `json:"document_type"`
}

// SearchResult is one ranked retrieval candidate.
//
// Results are ephemeral: produced per query by the retriever, consumed by
// the composer, never persisted. Similarity is in [0,1], higher is more
// relevant.
type SearchResult struct {
	Content    string         `json:"content"`
	Metadata   ResultMetadata `json:"metadata"`
	Similarity float64        `json:"similarity"`
}
