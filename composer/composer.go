// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package composer turns retrieved excerpts and conversation history into
// a streamed assistant message with citations.
package composer

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
	"github.com/eyescafe/chat-core/llm"
)

var tracer = otel.Tracer("eyescafe.chatcore.composer")

const (
	// defaultSimilarityCutoff is the minimum similarity for a result to
	// earn a citation. Results below it still feed the prompt context.
	defaultSimilarityCutoff = 0.7

	// defaultMaxExcerpt caps citation excerpt length in characters.
	defaultMaxExcerpt = 320

	// defaultMaxHistory caps how many prior messages feed the prompt.
	defaultMaxHistory = 20

	systemPrompt = "You are the Eyes Cafe conversation assistant. Answer questions " +
		"about World Cafe sessions using only the provided context excerpts and " +
		"the conversation so far. When the context does not cover the question, " +
		"say so plainly instead of guessing."
)

// ChunkFunc receives partial answer content in order. Returning an error
// aborts composition.
type ChunkFunc func(content string) error

// Composer produces assistant messages from retrieval results.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type Composer struct {
	client           llm.Client
	similarityCutoff float64
	maxExcerpt       int
	maxHistory       int
}

// NewComposer creates a Composer over the given generation client.
//
// COMPOSER_SIMILARITY_CUTOFF, COMPOSER_MAX_EXCERPT and COMPOSER_MAX_HISTORY
// override the defaults.
func NewComposer(client llm.Client) *Composer {
	if client == nil {
		panic("composer.NewComposer: client must not be nil")
	}
	c := &Composer{
		client:           client,
		similarityCutoff: defaultSimilarityCutoff,
		maxExcerpt:       defaultMaxExcerpt,
		maxHistory:       defaultMaxHistory,
	}
	if v := os.Getenv("COMPOSER_SIMILARITY_CUTOFF"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.similarityCutoff = f
		}
	}
	if v := os.Getenv("COMPOSER_MAX_EXCERPT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.maxExcerpt = n
		}
	}
	if v := os.Getenv("COMPOSER_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.maxHistory = n
		}
	}
	return c
}

// Compose streams an answer and returns the finished assistant message.
//
// # Description
//
// Content chunks flow through onChunk as the model produces them. Citations
// are finalized only on the terminal message, never mid-stream: each result
// at or above the similarity cutoff maps to exactly one ChatSource, in rank
// order. With no results the answer still streams and Sources is an empty
// slice, so clients can tell "answered without citations" from "no answer
// yet".
//
// # Errors
//
// Generation failures surface as KindUpstreamTimeout or KindUpstreamError.
// On any error no message is returned; callers must not persist partial
// output.
func (c *Composer) Compose(ctx context.Context, conv *datatypes.ChatConversation,
	userMessage string, results []datatypes.SearchResult, onChunk ChunkFunc) (*datatypes.ChatMessage, error) {

	ctx, span := tracer.Start(ctx, "Composer.Compose")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Int("retrieval.num_results", len(results)),
	)

	messages := c.buildPrompt(conv, userMessage, results)

	var answer strings.Builder
	err := c.client.ChatStream(ctx, messages, llm.GenerationParams{}, func(event llm.StreamEvent) error {
		if event.Type != llm.StreamEventToken || event.Content == "" {
			return nil
		}
		answer.WriteString(event.Content)
		return onChunk(event.Content)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	sources := c.buildSources(results)
	span.SetAttributes(attribute.Int("composer.num_sources", len(sources)))

	msg := datatypes.NewAssistantMessage(conv.ID, answer.String(), sources)
	return &msg, nil
}

// buildPrompt assembles the model input: system persona, retrieved context,
// a bounded window of history, then the user's message.
func (c *Composer) buildPrompt(conv *datatypes.ChatConversation, userMessage string,
	results []datatypes.SearchResult) []llm.Message {

	messages := []llm.Message{{Role: "system", Content: systemPrompt}}

	if len(results) > 0 {
		var b strings.Builder
		b.WriteString("Context excerpts from the recorded sessions, most relevant first:\n")
		for i, r := range results {
			b.WriteString(fmt.Sprintf("\n[%d] %s\n%s\n", i+1, describeResult(r.Metadata), r.Content))
		}
		messages = append(messages, llm.Message{Role: "system", Content: b.String()})
	}

	history := conv.Messages
	if len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	return append(messages, llm.Message{Role: "user", Content: userMessage})
}

// buildSources maps qualifying results to citations, preserving rank order.
// The returned slice is never nil.
func (c *Composer) buildSources(results []datatypes.SearchResult) []datatypes.ChatSource {
	sources := []datatypes.ChatSource{}
	for _, r := range results {
		if r.Similarity < c.similarityCutoff {
			continue
		}
		m := r.Metadata
		sources = append(sources, datatypes.ChatSource{
			Type:        m.DocumentType,
			SessionID:   m.SessionID,
			TableID:     m.TableID,
			SpeakerID:   m.SpeakerID,
			TimestampMs: m.TimestampMs,
			Excerpt:     truncateExcerpt(r.Content, c.maxExcerpt),
			URL:         datatypes.SourceURL(m.DocumentType, m.SessionID, m.TableID, m.TimestampMs),
		})
	}
	return sources
}

// describeResult renders a one-line provenance label for a prompt excerpt.
func describeResult(m datatypes.ResultMetadata) string {
	var b strings.Builder
	b.WriteString(string(m.DocumentType))
	b.WriteString(", session ")
	b.WriteString(m.SessionID)
	if m.TableID != nil {
		b.WriteString(fmt.Sprintf(", table %d", *m.TableID))
	}
	if m.SpeakerID != "" {
		b.WriteString(", speaker ")
		b.WriteString(m.SpeakerID)
	}
	return b.String()
}

// truncateExcerpt shortens text to at most max bytes, cutting at the last
// word boundary inside the limit so no word is split. Text with no boundary
// inside the limit is hard-cut at a rune boundary; the excerpt is a verbatim
// quote and must stay valid UTF-8.
func truncateExcerpt(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	end := max
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ")
}
