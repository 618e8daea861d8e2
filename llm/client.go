// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for the text-generation backends.
package llm

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("eyescafe.chatcore.llm")

// Message is one turn of model input in wire form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries optional sampling parameters. Nil fields fall
// back to backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates streaming callback events.
type StreamEventType string

const (
	// StreamEventToken carries one content delta.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone marks the end of the stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one unit of streamed model output.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events in order. Returning an error aborts
// the stream; the client stops reading and returns the callback's error.
type StreamCallback func(event StreamEvent) error

// Client is the contract every generation backend satisfies.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Chat returns the complete assistant reply for the conversation.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream delivers the reply incrementally through callback. The
	// final event has Type StreamEventDone. A nil return means the stream
	// completed; callers must treat any error as a partial response.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error
}

// NewClientFromEnv selects a backend from LLM_BACKEND_TYPE.
//
// Supported values are "ollama" (default) and "openai".
func NewClientFromEnv() (Client, error) {
	backend := os.Getenv("LLM_BACKEND_TYPE")
	if backend == "" {
		backend = "ollama"
	}
	switch backend {
	case "ollama":
		return NewOllamaClient()
	case "openai":
		return NewOpenAIClient()
	default:
		return nil, fmt.Errorf("unsupported LLM_BACKEND_TYPE: %s", backend)
	}
}
