// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

// =============================================================================
// Scope Invariant Tests
// =============================================================================

func TestValidateScopeIdentifiers_AllCombinations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		scope     Scope
		sessionID string
		tableID   *int
		wantErr   bool
	}{
		{"global bare", ScopeGlobal, "", nil, false},
		{"global with session", ScopeGlobal, "S1", nil, true},
		{"global with table", ScopeGlobal, "", intPtr(3), true},
		{"global with both", ScopeGlobal, "S1", intPtr(3), true},
		{"session with session", ScopeSession, "S1", nil, false},
		{"session bare", ScopeSession, "", nil, true},
		{"session with table", ScopeSession, "S1", intPtr(3), true},
		{"session table only", ScopeSession, "", intPtr(3), true},
		{"table with both", ScopeTable, "S1", intPtr(3), false},
		{"table bare", ScopeTable, "", nil, true},
		{"table session only", ScopeTable, "S1", nil, true},
		{"table table only", ScopeTable, "", intPtr(3), true},
		{"unknown scope", Scope("universe"), "", nil, true},
		{"empty scope", Scope(""), "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateScopeIdentifiers(tt.scope, tt.sessionID, tt.tableID)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindInvalidScope), "expected invalid_scope, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// NewChatConversation either returns a conversation satisfying the scope
// invariant or fails with invalid_scope. There is no third outcome.
func TestNewChatConversation_InvariantOrInvalidScope(t *testing.T) {
	t.Parallel()

	conv, err := NewChatConversation(ScopeTable, "S1", intPtr(3))
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, ScopeTable, conv.Scope)
	assert.Equal(t, "S1", conv.SessionID)
	require.NotNil(t, conv.TableID)
	assert.Equal(t, 3, *conv.TableID)
	assert.NotNil(t, conv.Messages)
	assert.Empty(t, conv.Messages)
	assert.Positive(t, conv.CreatedAt)

	conv, err = NewChatConversation(ScopeSession, "", nil)
	require.Error(t, err)
	assert.Nil(t, conv)
	assert.True(t, IsKind(err, KindInvalidScope))
}

func TestNewChatConversation_GeneratesUniqueIDs(t *testing.T) {
	t.Parallel()

	a, err := NewChatConversation(ScopeGlobal, "", nil)
	require.NoError(t, err)
	b, err := NewChatConversation(ScopeGlobal, "", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

// =============================================================================
// Scope Key Tests
// =============================================================================

func TestScopeKeyFor_DistinguishesCombinations(t *testing.T) {
	t.Parallel()

	keys := []string{
		ScopeKeyFor(ScopeGlobal, "", nil),
		ScopeKeyFor(ScopeSession, "S1", nil),
		ScopeKeyFor(ScopeSession, "S2", nil),
		ScopeKeyFor(ScopeTable, "S1", intPtr(1)),
		ScopeKeyFor(ScopeTable, "S1", intPtr(2)),
		ScopeKeyFor(ScopeTable, "S2", intPtr(1)),
	}

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate scope key: %s", k)
		seen[k] = true
	}
}

func TestScopeKey_MatchesScopeKeyFor(t *testing.T) {
	t.Parallel()

	conv, err := NewChatConversation(ScopeTable, "S1", intPtr(3))
	require.NoError(t, err)
	assert.Equal(t, ScopeKeyFor(ScopeTable, "S1", intPtr(3)), conv.ScopeKey())
}

// =============================================================================
// MatchesScope Tests
// =============================================================================

func TestMatchesScope(t *testing.T) {
	t.Parallel()

	conv, err := NewChatConversation(ScopeSession, "S1", nil)
	require.NoError(t, err)

	assert.True(t, conv.MatchesScope(ScopeSession, "S1", nil))
	assert.False(t, conv.MatchesScope(ScopeSession, "S2", nil))
	assert.False(t, conv.MatchesScope(ScopeGlobal, "", nil))
	assert.False(t, conv.MatchesScope(ScopeTable, "S1", intPtr(3)))

	tableConv, err := NewChatConversation(ScopeTable, "S1", intPtr(3))
	require.NoError(t, err)
	assert.True(t, tableConv.MatchesScope(ScopeTable, "S1", intPtr(3)))
	assert.False(t, tableConv.MatchesScope(ScopeTable, "S1", intPtr(4)))
	assert.False(t, tableConv.MatchesScope(ScopeTable, "S1", nil))
}

// =============================================================================
// ChatMessage Tests
// =============================================================================

func TestNewAssistantMessage_NilSourcesBecomesEmpty(t *testing.T) {
	t.Parallel()

	msg := NewAssistantMessage("conv-1", "answer", nil)
	require.NotNil(t, msg.Sources)
	assert.Empty(t, msg.Sources)
	assert.Equal(t, RoleAssistant, msg.Role)
}

// Clients distinguish "answered without citations" from "not yet answered"
// by the sources field, so an empty list must serialize as [] and never be
// dropped.
func TestChatMessage_EmptySourcesSerializeAsEmptyArray(t *testing.T) {
	t.Parallel()

	msg := NewAssistantMessage("conv-1", "answer", nil)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sources":[]`)
}

func TestNewUserMessage(t *testing.T) {
	t.Parallel()

	msg := NewUserMessage("conv-1", "hello")
	assert.Equal(t, "conv-1", msg.ConversationID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.NotEmpty(t, msg.ID)
	assert.Zero(t, msg.CreatedAt, "createdAt is assigned at append time")
}

func TestLastCreatedAt(t *testing.T) {
	t.Parallel()

	conv, err := NewChatConversation(ScopeGlobal, "", nil)
	require.NoError(t, err)
	assert.Zero(t, conv.LastCreatedAt())

	conv.Messages = append(conv.Messages,
		ChatMessage{CreatedAt: 100},
		ChatMessage{CreatedAt: 250},
	)
	assert.Equal(t, int64(250), conv.LastCreatedAt())
}

// =============================================================================
// SourceURL Tests
// =============================================================================

func TestSourceURL_Transcription(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/sessions/S1/transcript",
		SourceURL(DocTranscription, "S1", nil, nil))
	assert.Equal(t, "/sessions/S1/tables/3/transcript",
		SourceURL(DocTranscription, "S1", intPtr(3), nil))
	assert.Equal(t, "/sessions/S1/tables/3/transcript?t=95",
		SourceURL(DocTranscription, "S1", intPtr(3), int64Ptr(95500)))
	assert.Equal(t, "/sessions/S1/transcript?t=12",
		SourceURL(DocTranscription, "S1", nil, int64Ptr(12000)))
}

func TestSourceURL_Reports(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/sessions/S1/reports/analysis",
		SourceURL(DocAnalysis, "S1", nil, nil))
	assert.Equal(t, "/sessions/S1/reports/analysis?table=2",
		SourceURL(DocAnalysis, "S1", intPtr(2), nil))
	assert.Equal(t, "/sessions/S1/reports/bias",
		SourceURL(DocBiasDetection, "S1", nil, nil))
	assert.Equal(t, "/sessions/S1/reports/bias?table=7",
		SourceURL(DocBiasDetection, "S1", intPtr(7), nil))
}

func TestSourceURL_UnknownTypeFallsBack(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/sessions/S1", SourceURL(DocumentType("mystery"), "S1", nil, nil))
}

// =============================================================================
// Error Taxonomy Tests
// =============================================================================

func TestErrorKindHelpers(t *testing.T) {
	t.Parallel()

	err := NewError(KindScopeMismatch, "stored conversation disagrees")
	assert.True(t, IsKind(err, KindScopeMismatch))
	assert.False(t, IsKind(err, KindInvalidScope))
	assert.Equal(t, KindScopeMismatch, KindOf(err))

	wrapped := WrapError(KindUpstreamTimeout, "embed timed out", err)
	assert.True(t, IsKind(wrapped, KindUpstreamTimeout))
	assert.Equal(t, KindUpstreamTimeout, KindOf(wrapped))

	assert.Equal(t, KindUpstreamError, KindOf(assert.AnError))
}
