// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eyescafe/chat-core/composer"
	"github.com/eyescafe/chat-core/conversation"
	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/observability"
	"github.com/eyescafe/chat-core/retrieval"
	"github.com/eyescafe/chat-core/scope"
)

var tracer = otel.Tracer("eyescafe.chatcore.handlers")

// heartbeatInterval is the interval for keepalive pings during slow
// retrieval or generation. Must stay under common proxy idle timeouts
// (nginx defaults to 60s).
const heartbeatInterval = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// ChatHandler serves the conversational endpoints.
type ChatHandler interface {
	// HandleChatStream processes POST /v1/chat/stream with SSE streaming.
	HandleChatStream(c *gin.Context)

	// HandleGetConversation processes GET /v1/conversations/:id.
	HandleGetConversation(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

type chatHandler struct {
	manager   *conversation.Manager
	retriever *retrieval.Retriever
	composer  *composer.Composer
}

// NewChatHandler creates a ChatHandler with the provided dependencies.
// Panics on nil dependencies; missing wiring is a programming error.
func NewChatHandler(manager *conversation.Manager, retriever *retrieval.Retriever,
	comp *composer.Composer) ChatHandler {
	if manager == nil {
		panic("NewChatHandler: manager must not be nil")
	}
	if retriever == nil {
		panic("NewChatHandler: retriever must not be nil")
	}
	if comp == nil {
		panic("NewChatHandler: composer must not be nil")
	}
	return &chatHandler{
		manager:   manager,
		retriever: retriever,
		composer:  comp,
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes a chat request with SSE streaming.
//
// # Description
//
// Handles POST /v1/chat/stream. The flow is:
//  1. Parse and validate the request body.
//  2. Resolve the scope filter.
//  3. Load or create the conversation and check scope agreement.
//  4. Set SSE headers and create the writer.
//  5. Take the conversation's write lock; concurrent requests against the
//     same conversation queue here instead of interleaving.
//  6. Retrieve context. An unreachable index degrades to empty results
//     rather than failing the request.
//  7. Append the user message, stream the composed answer, then append the
//     assistant message only after the stream completed.
//  8. Emit the terminal done event with the full response and citations.
//
// Failures before step 4 are plain HTTP errors. Failures after streaming
// starts are emitted as terminal error events with the taxonomy kind, so
// clients never hang on a half-open stream.
//
// # Outputs
//
// SSE events:
//   - event: status, data: {"type":"status","message":"..."}
//   - event: token, data: {"type":"token","content":"...","streaming":true}
//   - event: done, data: {"type":"done","conversation_id":"...","response":{...}}
//   - event: error, data: {"type":"error","error":"...","error_kind":"..."}
//
// HTTP status (before streaming starts):
//   - 400 Bad Request: malformed body or invalid scope/identifiers
//   - 404 Not Found: unknown conversation id
//   - 409 Conflict: request scope disagrees with the stored conversation
//   - 500 Internal Server Error: SSE setup failure
func (h *chatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate.
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request body")
		recordError(endpoint, datatypes.KindInvalidScope)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		recordError(endpoint, datatypes.KindOf(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"kind":  string(datatypes.KindInvalidScope),
		})
		return
	}
	span.SetAttributes(attribute.String("chat.scope", string(req.Scope)))

	// Step 2: Resolve the scope filter.
	filter, err := scope.Resolve(req.Scope, req.SessionID, req.TableID)
	if err != nil {
		span.RecordError(err)
		recordError(endpoint, datatypes.KindInvalidScope)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"kind":  string(datatypes.KindInvalidScope),
		})
		return
	}

	// Step 3: Load or create the conversation.
	conv, err := h.manager.GetOrCreate(ctx, req.ConversationID, req.Scope, req.SessionID, req.TableID)
	if err != nil {
		span.RecordError(err)
		kind := datatypes.KindOf(err)
		recordError(endpoint, kind)
		c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
		return
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	// Step 4: Switch to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer, conv.ID)
	if err != nil {
		slog.Error("Failed to create SSE writer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// Keepalive pings cover slow retrieval and generation.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go runHeartbeat(writer, endpoint, heartbeatDone)

	// Step 5: Serialize writers for this conversation.
	release, err := h.manager.Acquire(ctx, conv.ID)
	if err != nil {
		h.failStream(span, writer, endpoint, err)
		return
	}
	defer release()

	// The lock may have queued us behind another writer; reload so history
	// includes its messages.
	conv, err = h.manager.Load(ctx, conv.ID)
	if err != nil {
		h.failStream(span, writer, endpoint, err)
		return
	}

	// Step 6: Retrieve context, degrading when the index is unreachable.
	_ = writer.WriteStatus("Searching session context...")
	results, err := h.retriever.Retrieve(ctx, req.Message, filter)
	if err != nil {
		if !datatypes.IsKind(err, datatypes.KindIndexUnavailable) {
			h.failStream(span, writer, endpoint, err)
			return
		}
		slog.Warn("Index unavailable, composing without context", "error", err)
		recordError(endpoint, datatypes.KindIndexUnavailable)
		results = []datatypes.SearchResult{}
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRetrieval(len(results))
	}

	// Step 7: Append the user message, then compose.
	userMsg := datatypes.NewUserMessage(conv.ID, req.Message)
	if _, err := h.manager.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		h.failStream(span, writer, endpoint, err)
		return
	}

	firstToken := true
	assistantMsg, err := h.composer.Compose(ctx, conv, req.Message, results, func(content string) error {
		if firstToken {
			firstToken = false
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstToken(endpoint, time.Since(startTime).Seconds())
			}
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordToken(endpoint)
		}
		return writer.WriteToken(content)
	})
	if err != nil {
		// No assistant message is persisted for a failed or canceled
		// stream; the user message stays, matching append-only semantics.
		h.failStream(span, writer, endpoint, err)
		return
	}

	// Append only on stream completion, never partial content.
	persisted, err := h.manager.AppendMessage(ctx, conv.ID, *assistantMsg)
	if err != nil {
		h.failStream(span, writer, endpoint, err)
		return
	}

	// Step 8: Terminal event with the complete response.
	if err := writer.WriteDone(&datatypes.ChatResponse{
		Message:        persisted,
		ConversationID: conv.ID,
		Streaming:      false,
	}); err != nil {
		slog.Debug("Failed to write done event", "error", err)
		return
	}

	success = true
	slog.Info("Chat stream completed",
		"conversationId", conv.ID,
		"scope", conv.Scope,
		"numSources", len(persisted.Sources),
		"durationMs", time.Since(startTime).Milliseconds())
}

// HandleGetConversation returns a stored conversation with its messages.
//
// HTTP status:
//   - 200 OK: conversation found
//   - 404 Not Found: unknown conversation id
func (h *chatHandler) HandleGetConversation(c *gin.Context) {
	endpoint := observability.EndpointConversations

	ctx, span := tracer.Start(c.Request.Context(), "HandleGetConversation")
	defer span.End()

	id := c.Param("id")
	conv, err := h.manager.Load(ctx, id)
	if err != nil {
		span.RecordError(err)
		kind := datatypes.KindOf(err)
		recordError(endpoint, kind)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
		}
		c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
	c.JSON(http.StatusOK, conv)
}

// =============================================================================
// Helpers
// =============================================================================

// failStream emits a terminal error event so streaming clients never hang.
// Cancellation by the client is logged at debug, not error.
func (h *chatHandler) failStream(span trace.Span, writer SSEWriter,
	endpoint observability.Endpoint, err error) {
	kind := datatypes.KindOf(err)
	recordError(endpoint, kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	if errors.Is(err, context.Canceled) {
		slog.Debug("Chat stream canceled by client", "error", err)
	} else {
		slog.Error("Chat stream failed", "kind", kind, "error", err)
	}
	if werr := writer.WriteError(kind, sanitizeErrorForClient(err, kind)); werr != nil {
		slog.Debug("Failed to write error event", "error", werr)
	}
}

// sanitizeErrorForClient keeps user-input errors verbatim and replaces
// upstream failure details with a generic message.
func sanitizeErrorForClient(err error, kind datatypes.ErrorKind) string {
	switch kind {
	case datatypes.KindInvalidScope, datatypes.KindConversationNotFound, datatypes.KindScopeMismatch:
		return err.Error()
	case datatypes.KindUpstreamTimeout:
		return "the answer service timed out, please retry"
	default:
		return "the answer service is temporarily unavailable"
	}
}

// statusForKind maps taxonomy kinds onto HTTP statuses for pre-stream
// failures.
func statusForKind(kind datatypes.ErrorKind) int {
	switch kind {
	case datatypes.KindInvalidScope:
		return http.StatusBadRequest
	case datatypes.KindConversationNotFound:
		return http.StatusNotFound
	case datatypes.KindScopeMismatch:
		return http.StatusConflict
	case datatypes.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func recordError(endpoint observability.Endpoint, kind datatypes.ErrorKind) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, string(kind))
	}
}

// runHeartbeat sends keepalive pings until done is closed. Write failures
// are logged and the heartbeat keeps going; the main stream notices the
// dead connection itself.
func runHeartbeat(writer SSEWriter, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				continue
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}
