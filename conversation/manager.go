// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/eyescafe/chat-core/datatypes"
)

var tracer = otel.Tracer("eyescafe.chatcore.conversation")

// Manager owns conversation lifecycle and write serialization.
//
// # Description
//
// The manager is the only writer of conversations. It enforces:
//
//   - at most one conversation per (scope, sessionId, tableId) key,
//     created lazily on first use;
//   - scope immutability: a loaded conversation must agree with the
//     request's scope and identifiers;
//   - append-only messages with non-decreasing createdAt;
//   - at most one in-flight compose/append per conversation, via Acquire.
//
// # Thread Safety
//
// Safe for concurrent use. Independent conversations proceed fully in
// parallel; requests against the same conversation queue on its lock.
type Manager struct {
	store Store
	locks *lockTable
}

// NewManager creates a Manager over the given store.
func NewManager(store Store) *Manager {
	if store == nil {
		panic("conversation.NewManager: store must not be nil")
	}
	return &Manager{store: store, locks: newLockTable()}
}

// GetOrCreate loads or lazily creates the conversation for a request.
//
// # Description
//
// With a conversationID, the stored conversation is loaded and its binding
// checked against the request. Without one, the single conversation for
// the scope key is reused, or created under a creation lock so two
// concurrent first messages cannot race into duplicate threads.
//
// # Errors
//
//   - KindInvalidScope: malformed scope/identifier combination.
//   - KindConversationNotFound: unknown conversationID.
//   - KindScopeMismatch: request scope/ids disagree with the stored thread.
//
// There is no other failure mode for valid storage: either a conversation
// satisfying the scope invariant is returned, or one of the above.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string, scope datatypes.Scope, sessionID string, tableID *int) (*datatypes.ChatConversation, error) {
	ctx, span := tracer.Start(ctx, "Manager.GetOrCreate")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.scope", string(scope)))

	if conversationID != "" {
		conv, err := m.store.Load(ctx, conversationID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
			return nil, err
		}
		if !conv.MatchesScope(scope, sessionID, tableID) {
			err := datatypes.NewError(datatypes.KindScopeMismatch,
				"request scope does not match the stored conversation")
			span.RecordError(err)
			span.SetStatus(codes.Error, "scope mismatch")
			return nil, err
		}
		return conv, nil
	}

	if err := datatypes.ValidateScopeIdentifiers(scope, sessionID, tableID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid scope")
		return nil, err
	}

	// Serialize creation per scope key so concurrent first messages share
	// one thread instead of racing into duplicates.
	key := "create:" + datatypes.ScopeKeyFor(scope, sessionID, tableID)
	release, err := m.locks.Acquire(ctx, key)
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindUpstreamTimeout, "canceled while waiting for conversation creation", err)
	}
	defer release()

	conv, err := m.store.FindByScopeKey(ctx, scope, sessionID, tableID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv, err = datatypes.NewChatConversation(scope, sessionID, tableID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Create(ctx, conv); err != nil {
		return nil, err
	}

	slog.Info("Created conversation",
		"conversationId", conv.ID,
		"scope", conv.Scope,
		"sessionId", conv.SessionID)
	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	return conv, nil
}

// AppendMessage appends one message, assigning a createdAt no earlier than
// the previous message's so append order is observable in timestamps even
// across clock adjustments. Appends are not idempotent and must never be
// retried by callers.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, msg datatypes.ChatMessage) (datatypes.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "Manager.AppendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("message.role", string(msg.Role)),
	)

	conv, err := m.store.Load(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return datatypes.ChatMessage{}, err
	}

	msg.ConversationID = conversationID
	msg.CreatedAt = time.Now().UnixMilli()
	if last := conv.LastCreatedAt(); msg.CreatedAt < last {
		msg.CreatedAt = last
	}

	if err := m.store.AppendMessage(ctx, conversationID, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return datatypes.ChatMessage{}, err
	}
	return msg, nil
}

// Load returns a stored conversation with its messages.
func (m *Manager) Load(ctx context.Context, conversationID string) (*datatypes.ChatConversation, error) {
	return m.store.Load(ctx, conversationID)
}

// Acquire takes the conversation's mutual-exclusion token, queueing behind
// any in-flight compose/append for the same id. The token is released by
// calling the returned function, including on cancellation paths, so no
// partially-appended message is left behind.
func (m *Manager) Acquire(ctx context.Context, conversationID string) (func(), error) {
	release, err := m.locks.Acquire(ctx, "conv:"+conversationID)
	if err != nil {
		return nil, datatypes.WrapError(datatypes.KindUpstreamTimeout, "canceled while waiting for conversation lock", err)
	}
	return release, nil
}
