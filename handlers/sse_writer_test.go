// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyescafe/chat-core/datatypes"
)

// parseSSEEvents decodes the recorded body into typed events, skipping
// comment lines.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()

	var events []datatypes.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var event datatypes.StreamEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
			events = append(events, event)
		}
	}
	return events
}

// =============================================================================
// Wire Format Tests
// =============================================================================

func TestSSEWriter_EventWireFormat(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteStatus("Searching session context..."))

	body := recorder.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\ndata: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))

	events := parseSSEEvents(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, "status", events[0].Type)
	assert.Equal(t, "Searching session context...", events[0].Message)
	assert.NotEmpty(t, events[0].Id)
	assert.NotZero(t, events[0].CreatedAt)
}

func TestSSEWriter_HashChainLinksEvents(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteStatus("working"))
	require.NoError(t, writer.WriteToken("Hello"))
	require.NoError(t, writer.WriteToken(" world"))

	events := parseSSEEvents(t, recorder.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash, "first event anchors the chain")
	assert.NotEmpty(t, events[0].Hash)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Hash, events[i].PrevHash)
		assert.NotEqual(t, events[i].Hash, events[i].PrevHash)
	}
}

func TestSSEWriter_KeepAliveIsCommentAndDoesNotAdvanceChain(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("a"))
	require.NoError(t, writer.WriteKeepAlive())
	require.NoError(t, writer.WriteToken("b"))

	body := recorder.Body.String()
	assert.Contains(t, body, ": ping\n\n")

	events := parseSSEEvents(t, body)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Hash, events[1].PrevHash,
		"a keepalive between two tokens must not break the chain")
}

func TestSSEWriter_TokenEventsCarryConversationId(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteToken("partial"))
	require.NoError(t, writer.WriteError(datatypes.KindUpstreamError, "failed"))

	events := parseSSEEvents(t, recorder.Body.String())
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, "conv-1", e.ConversationId)
	}
	assert.True(t, events[0].Streaming)
}

func TestSSEWriter_WriteDoneCarriesResponse(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	msg := datatypes.NewAssistantMessage("conv-1", "the answer", nil)
	require.NoError(t, writer.WriteDone(&datatypes.ChatResponse{
		Message:        msg,
		ConversationID: "conv-1",
	}))

	events := parseSSEEvents(t, recorder.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Type)
	assert.Equal(t, "conv-1", events[0].ConversationId)
	require.NotNil(t, events[0].Response)
	assert.Equal(t, "the answer", events[0].Response.Message.Content)
	assert.NotNil(t, events[0].Response.Message.Sources, "sources serialize even when empty")
}

func TestSSEWriter_WriteErrorCarriesKind(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	writer, err := NewSSEWriter(recorder, "conv-1")
	require.NoError(t, err)

	require.NoError(t, writer.WriteError(datatypes.KindUpstreamTimeout, "the answer service timed out, please retry"))

	events := parseSSEEvents(t, recorder.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Equal(t, datatypes.KindUpstreamTimeout, events[0].ErrorKind)
	assert.NotEmpty(t, events[0].Error)
}

func TestSetSSEHeaders(t *testing.T) {
	t.Parallel()

	recorder := httptest.NewRecorder()
	SetSSEHeaders(recorder)

	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", recorder.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", recorder.Header().Get("Connection"))
	assert.Equal(t, "no", recorder.Header().Get("X-Accel-Buffering"))
}
