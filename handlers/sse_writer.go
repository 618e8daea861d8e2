// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eyescafe/chat-core/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes Server-Sent Events to an HTTP response.
//
// # Description
//
// SSEWriter abstracts the SSE wire format (event: type\ndata: json\n\n) so
// handlers and tests do not touch response mechanics. Each event is
// automatically assigned:
//
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of the event content for integrity
//   - PrevHash: hash of the previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Keepalive pings and
// content tokens may arrive from different goroutines.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing.
type SSEWriter interface {
	// WriteEvent writes a single event. Id, CreatedAt, Hash and PrevHash
	// are populated here; any values the caller set are overwritten.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with a human-readable message.
	WriteStatus(message string) error

	// WriteToken writes one content chunk in display order.
	WriteToken(content string) error

	// WriteError writes an error event with the taxonomy kind so clients
	// can distinguish user errors from upstream failures. The stream must
	// be closed afterwards; errors never hang the client.
	WriteError(kind datatypes.ErrorKind, errMsg string) error

	// WriteDone writes the terminal event carrying the complete response.
	// Must be called at most once per stream.
	WriteDone(response *datatypes.ChatResponse) error

	// WriteKeepAlive sends an SSE comment (": ping") to keep the TCP
	// connection alive through proxy idle timeouts. Comments are not
	// events and do not advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// The writer maintains a hash chain: each event's Hash covers its content
// and PrevHash links to the previous event, giving a verifiable record of
// what was streamed and in what order.
type sseWriter struct {
	writer         http.ResponseWriter
	flusher        http.Flusher
	conversationID string
	prevHash       string
	mu             sync.Mutex
}

// NewSSEWriter wraps the ResponseWriter for one conversation's stream. The
// caller must have set SSE headers first (see SetSSEHeaders). Every event
// carries the conversation id so clients can correlate partial content
// without waiting for the terminal response.
func NewSSEWriter(w http.ResponseWriter, conversationID string) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:         w,
		flusher:        flusher,
		conversationID: conversationID,
		prevHash:       "",
	}, nil
}

// WriteEvent populates metadata, serializes and flushes one event.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	if event.ConversationId == "" {
		event.ConversationId = w.conversationID
	}

	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of the event content. The
// terminal response is serialized so citations and final content are part
// of the chain of custody. Called before setting event.Hash.
func computeEventHash(event datatypes.StreamEvent) string {
	responseJSON := ""
	if event.Response != nil {
		if data, err := json.Marshal(event.Response); err == nil {
			responseJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.ErrorKind,
		event.ConversationId,
		responseJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "token",
		Content:   content,
		Streaming: true,
	})
}

func (w *sseWriter) WriteError(kind datatypes.ErrorKind, errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "error",
		Error:     errMsg,
		ErrorKind: kind,
	})
}

func (w *sseWriter) WriteDone(response *datatypes.ChatResponse) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:           "done",
		ConversationId: response.ConversationID,
		Response:       response,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response for SSE streaming. Must be called
// before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
