// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyescafe/chat-core/composer"
	"github.com/eyescafe/chat-core/conversation"
	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/index"
	"github.com/eyescafe/chat-core/llm"
	"github.com/eyescafe/chat-core/retrieval"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func intPtr(v int) *int { return &v }

// fixedEmbedder maps every text to the same vector, or fails.
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// scriptedLLM streams a fixed token sequence, or fails before producing
// anything.
type scriptedLLM struct {
	tokens []string
	err    error
}

func (s scriptedLLM) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	out := ""
	for _, tok := range s.tokens {
		out += tok
	}
	return out, nil
}

func (s scriptedLLM) ChatStream(_ context.Context, _ []llm.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	if s.err != nil {
		return s.err
	}
	for _, tok := range s.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

type testHarness struct {
	router  *gin.Engine
	manager *conversation.Manager
	index   *index.MemoryIndex
}

func newTestHarness(t *testing.T, client llm.Client) *testHarness {
	t.Helper()

	idx := index.NewMemoryIndex()
	manager := conversation.NewManager(conversation.NewMemoryStore())
	retriever := retrieval.NewRetriever(idx, fixedEmbedder{vector: []float32{1, 0}})
	comp := composer.NewComposer(client)
	handler := NewChatHandler(manager, retriever, comp)

	router := gin.New()
	router.POST("/v1/chat/stream", handler.HandleChatStream)
	router.GET("/v1/conversations/:id", handler.HandleGetConversation)

	return &testHarness{router: router, manager: manager, index: idx}
}

func (h *testHarness) postChat(t *testing.T, req datatypes.ChatRequest) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(recorder, httpReq)
	return recorder
}

func (h *testHarness) seedDocument(t *testing.T, id, content, sessionID string, tableID *int, vector []float32) {
	t.Helper()
	require.NoError(t, h.index.Upsert(context.Background(), index.Document{
		ID:           id,
		Content:      content,
		Vector:       vector,
		SessionID:    sessionID,
		TableID:      tableID,
		DocumentType: datatypes.DocTranscription,
	}))
}

// terminalEvent returns the last event of the stream, asserting its type.
func terminalEvent(t *testing.T, events []datatypes.StreamEvent, wantType string) datatypes.StreamEvent {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, wantType, last.Type)
	return last
}

// =============================================================================
// Streaming Scenarios
// =============================================================================

func TestHandleChatStream_TableScopedHappyPath(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"Tables ", "discussed ", "budgets."}})

	h.seedDocument(t, "match", "table three talked budgets", "S1", intPtr(3), []float32{1, 0})
	h.seedDocument(t, "other-table", "table four talked logos", "S1", intPtr(4), []float32{1, 0})
	h.seedDocument(t, "other-session", "unrelated", "S2", intPtr(3), []float32{1, 0})

	recorder := h.postChat(t, datatypes.ChatRequest{
		Message:   "what did table 3 discuss?",
		Scope:     datatypes.ScopeTable,
		SessionID: "S1",
		TableID:   intPtr(3),
	})

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))

	events := parseSSEEvents(t, recorder.Body.String())
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "status", events[0].Type)

	done := terminalEvent(t, events, "done")

	var streamed string
	for _, e := range events {
		if e.Type == "token" {
			streamed += e.Content
			assert.True(t, e.Streaming)
			assert.Equal(t, done.ConversationId, e.ConversationId,
				"partial content must be correlatable before the terminal response")
		}
	}
	assert.Equal(t, "Tables discussed budgets.", streamed)
	require.NotNil(t, done.Response)
	assert.NotEmpty(t, done.ConversationId)
	assert.Equal(t, datatypes.RoleAssistant, done.Response.Message.Role)
	assert.Equal(t, "Tables discussed budgets.", done.Response.Message.Content)
	assert.False(t, done.Response.Streaming)

	// Only the table-scoped match earns a citation.
	require.Len(t, done.Response.Message.Sources, 1)
	assert.Equal(t, "table three talked budgets", done.Response.Message.Sources[0].Excerpt)
	require.NotNil(t, done.Response.Message.Sources[0].TableID)
	assert.Equal(t, 3, *done.Response.Message.Sources[0].TableID)

	// Both turns persisted, in order.
	conv, err := h.manager.Load(context.Background(), done.ConversationId)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, datatypes.RoleAssistant, conv.Messages[1].Role)
}

func TestHandleChatStream_ReusesConversationPerScopeKey(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	req := datatypes.ChatRequest{Message: "first", Scope: datatypes.ScopeSession, SessionID: "S1"}
	first := h.postChat(t, req)
	require.Equal(t, http.StatusOK, first.Code)
	firstDone := terminalEvent(t, parseSSEEvents(t, first.Body.String()), "done")

	req.Message = "second"
	second := h.postChat(t, req)
	require.Equal(t, http.StatusOK, second.Code)
	secondDone := terminalEvent(t, parseSSEEvents(t, second.Body.String()), "done")

	assert.Equal(t, firstDone.ConversationId, secondDone.ConversationId)

	conv, err := h.manager.Load(context.Background(), firstDone.ConversationId)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
}

func TestHandleChatStream_NoContextStillAnswersWithEmptySources(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"Nothing recorded yet."}})

	recorder := h.postChat(t, datatypes.ChatRequest{Message: "anything?", Scope: datatypes.ScopeGlobal})
	require.Equal(t, http.StatusOK, recorder.Code)

	done := terminalEvent(t, parseSSEEvents(t, recorder.Body.String()), "done")
	require.NotNil(t, done.Response)
	require.NotNil(t, done.Response.Message.Sources)
	assert.Empty(t, done.Response.Message.Sources)

	// The empty list must survive serialization as [] rather than null.
	assert.Contains(t, recorder.Body.String(), `"sources":[]`)
}

func TestHandleChatStream_GenerationFailureEmitsErrorEvent(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{err: datatypes.NewError(datatypes.KindUpstreamError, "model exploded")})

	recorder := h.postChat(t, datatypes.ChatRequest{Message: "q", Scope: datatypes.ScopeGlobal})
	require.Equal(t, http.StatusOK, recorder.Code, "failure after streaming starts stays on the stream")

	events := parseSSEEvents(t, recorder.Body.String())
	errEvent := terminalEvent(t, events, "error")
	assert.Equal(t, datatypes.KindUpstreamError, errEvent.ErrorKind)
	assert.NotContains(t, errEvent.Error, "model exploded", "upstream detail is not leaked to clients")

	// The user message stays; no assistant message is persisted.
	conv, err := h.manager.GetOrCreate(context.Background(), "", datatypes.ScopeGlobal, "", nil)
	require.NoError(t, err)
	loaded, err := h.manager.Load(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, datatypes.RoleUser, loaded.Messages[0].Role)
}

// =============================================================================
// Pre-Stream Failures
// =============================================================================

func TestHandleChatStream_MalformedBody(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleChatStream_InvalidScopeCombination(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	recorder := h.postChat(t, datatypes.ChatRequest{
		Message: "q",
		Scope:   datatypes.ScopeTable,
		// table scope without session or table ids
	})
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), string(datatypes.KindInvalidScope))
}

func TestHandleChatStream_UnknownConversation(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	recorder := h.postChat(t, datatypes.ChatRequest{
		Message:        "q",
		ConversationID: "550e8400-e29b-41d4-a716-446655440000",
		Scope:          datatypes.ScopeGlobal,
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Contains(t, recorder.Body.String(), string(datatypes.KindConversationNotFound))
}

func TestHandleChatStream_ScopeMismatchConflicts(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	conv, err := h.manager.GetOrCreate(context.Background(), "", datatypes.ScopeSession, "S1", nil)
	require.NoError(t, err)

	recorder := h.postChat(t, datatypes.ChatRequest{
		Message:        "q",
		ConversationID: conv.ID,
		Scope:          datatypes.ScopeGlobal,
	})
	require.Equal(t, http.StatusConflict, recorder.Code)
	assert.Contains(t, recorder.Body.String(), string(datatypes.KindScopeMismatch))
}

// =============================================================================
// Conversation Retrieval
// =============================================================================

func TestHandleGetConversation(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"hello there"}})

	chat := h.postChat(t, datatypes.ChatRequest{Message: "hi", Scope: datatypes.ScopeGlobal})
	require.Equal(t, http.StatusOK, chat.Code)
	done := terminalEvent(t, parseSSEEvents(t, chat.Body.String()), "done")

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/"+done.ConversationId, nil)
	h.router.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	var conv datatypes.ChatConversation
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &conv))
	assert.Equal(t, done.ConversationId, conv.ID)
	assert.Len(t, conv.Messages, 2)
}

func TestHandleGetConversation_NotFound(t *testing.T) {
	h := newTestHarness(t, scriptedLLM{tokens: []string{"ok"}})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/missing", nil)
	h.router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
