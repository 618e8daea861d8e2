// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/eyescafe/chat-core/datatypes"
)

const (
	conversationClass = "CafeConversation"
	messageClass      = "CafeChatMessage"

	// maxMessagesPerLoad bounds how many messages a single Load returns.
	// Conversations longer than this keep only the newest window, which is
	// all the composer consumes anyway.
	maxMessagesPerLoad = 500
)

// WeaviateStore persists conversations in Weaviate.
//
// Conversation headers live in the CafeConversation class and messages in
// CafeChatMessage, linked by conversation_id and ordered by created_at.
// Citations travel as a JSON blob and are opaque to the store.
//
// # Thread Safety
//
// Safe for concurrent use; the manager serializes writers per conversation.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore creates a Store over the given client. The schema must
// already exist (see datatypes.EnsureWeaviateSchema).
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// Load returns the conversation with its messages in append order.
func (s *WeaviateStore) Load(ctx context.Context, conversationID string) (*datatypes.ChatConversation, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Load")
	defer span.End()

	header, err := s.queryHeader(ctx, func() *filters.WhereBuilder {
		return filters.Where().
			WithPath([]string{"conversation_id"}).
			WithOperator(filters.Equal).
			WithValueString(conversationID)
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, datatypes.NewError(datatypes.KindConversationNotFound, "conversation not found: "+conversationID)
	}

	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	header.Messages = messages
	return header, nil
}

// FindByScopeKey returns the conversation bound to the scope key, or nil.
// Only the header is populated; callers needing messages use Load.
func (s *WeaviateStore) FindByScopeKey(ctx context.Context, scope datatypes.Scope, sessionID string, tableID *int) (*datatypes.ChatConversation, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.FindByScopeKey")
	defer span.End()

	header, err := s.queryHeader(ctx, func() *filters.WhereBuilder {
		operands := []*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"scope"}).
				WithOperator(filters.Equal).
				WithValueString(string(scope)),
		}
		if sessionID != "" {
			operands = append(operands, filters.Where().
				WithPath([]string{"session_id"}).
				WithOperator(filters.Equal).
				WithValueString(sessionID))
		}
		if tableID != nil {
			operands = append(operands, filters.Where().
				WithPath([]string{"table_id"}).
				WithOperator(filters.Equal).
				WithValueInt(int64(*tableID)))
		}
		if len(operands) == 1 {
			return operands[0]
		}
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	})
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, nil
	}

	messages, err := s.loadMessages(ctx, header.ID)
	if err != nil {
		return nil, err
	}
	header.Messages = messages
	return header, nil
}

// Create persists a new conversation header.
func (s *WeaviateStore) Create(ctx context.Context, conv *datatypes.ChatConversation) error {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Create")
	defer span.End()

	props := datatypes.CafeConversationProperties{
		ConversationID: conv.ID,
		Scope:          conv.Scope,
		SessionID:      conv.SessionID,
		TableID:        conv.TableID,
		CreatedAt:      conv.CreatedAt,
	}

	_, err := s.client.Data().Creator().
		WithClassName(conversationClass).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save conversation to Weaviate: %w", err)
	}

	slog.Info("Saved conversation header", "conversationId", conv.ID, "scope", conv.Scope)
	return nil
}

// AppendMessage persists one message at the end of the conversation.
func (s *WeaviateStore) AppendMessage(ctx context.Context, conversationID string, msg datatypes.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "WeaviateStore.AppendMessage")
	defer span.End()

	header, err := s.queryHeader(ctx, func() *filters.WhereBuilder {
		return filters.Where().
			WithPath([]string{"conversation_id"}).
			WithOperator(filters.Equal).
			WithValueString(conversationID)
	})
	if err != nil {
		return err
	}
	if header == nil {
		return datatypes.NewError(datatypes.KindConversationNotFound, "conversation not found: "+conversationID)
	}

	sourcesJSON := ""
	if msg.Sources != nil {
		data, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode message sources: %w", err)
		}
		sourcesJSON = string(data)
	}

	props := datatypes.CafeChatMessageProperties{
		MessageID:      msg.ID,
		ConversationID: conversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		SourcesJSON:    sourcesJSON,
		CreatedAt:      msg.CreatedAt,
	}

	_, err = s.client.Data().Creator().
		WithClassName(messageClass).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save message to Weaviate: %w", err)
	}
	return nil
}

// queryHeader runs a single-conversation header query.
func (s *WeaviateStore) queryHeader(ctx context.Context, where func() *filters.WhereBuilder) (*datatypes.ChatConversation, error) {
	fields := []graphql.Field{
		{Name: "conversation_id"},
		{Name: "scope"},
		{Name: "session_id"},
		{Name: "table_id"},
		{Name: "created_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(conversationClass).
		WithFields(fields...).
		WithWhere(where()).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate conversation query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CafeConversationQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conversation query response: %w", err)
	}
	if len(parsed.Get.CafeConversation) == 0 {
		return nil, nil
	}

	r := parsed.Get.CafeConversation[0]
	return &datatypes.ChatConversation{
		ID:        r.ConversationID,
		Scope:     datatypes.Scope(r.Scope),
		SessionID: r.SessionID,
		TableID:   r.TableID,
		CreatedAt: r.CreatedAt,
		Messages:  []datatypes.ChatMessage{},
	}, nil
}

// loadMessages returns the newest window of the conversation's messages in
// append order. The query reads created_at descending so the limit keeps
// the most recent messages; the rows are then reversed back into append
// order before use.
func (s *WeaviateStore) loadMessages(ctx context.Context, conversationID string) ([]datatypes.ChatMessage, error) {
	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Desc,
	}

	fields := []graphql.Field{
		{Name: "message_id"},
		{Name: "conversation_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "sources_json"},
		{Name: "created_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(messageClass).
		WithFields(fields...).
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(maxMessagesPerLoad).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate message query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.CafeChatMessageQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message query response: %w", err)
	}

	return decodeStoredMessages(parsed.Get.CafeChatMessage, conversationID), nil
}

// decodeStoredMessages converts newest-first query rows into append-ordered
// messages, decoding the sources blob and normalizing assistant citations.
func decodeStoredMessages(rows []datatypes.CafeChatMessageResult, conversationID string) []datatypes.ChatMessage {
	messages := make([]datatypes.ChatMessage, len(rows))
	for i, m := range rows {
		msg := datatypes.ChatMessage{
			ID:             m.MessageID,
			ConversationID: m.ConversationID,
			Role:           datatypes.Role(m.Role),
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
		if m.SourcesJSON != "" {
			if err := json.Unmarshal([]byte(m.SourcesJSON), &msg.Sources); err != nil {
				slog.Warn("Failed to decode stored message sources",
					"conversationId", conversationID,
					"messageId", m.MessageID,
					"error", err)
			}
		}
		if msg.Role == datatypes.RoleAssistant && msg.Sources == nil {
			msg.Sources = []datatypes.ChatSource{}
		}
		messages[len(rows)-1-i] = msg
	}
	return messages
}
