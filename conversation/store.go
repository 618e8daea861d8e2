// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation owns conversation lifecycle: creation, persistence,
// message append and per-conversation write serialization.
package conversation

import (
	"context"

	"github.com/eyescafe/chat-core/datatypes"
)

// Store is the persistence contract for conversations.
//
// # Description
//
// Conversations and messages are append-only: Create writes a new
// conversation header, AppendMessage adds one message. There are no update
// or delete operations. Threads are never edited in the product's data
// model.
//
// # Errors
//
// Load and AppendMessage return *datatypes.Error with
// KindConversationNotFound for unknown ids. FindByScopeKey returns
// (nil, nil) when no conversation exists for the key.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The manager serializes
// writers per conversation, so AppendMessage never races with itself for
// the same id.
type Store interface {
	// Load returns the conversation with its messages in append order.
	Load(ctx context.Context, conversationID string) (*datatypes.ChatConversation, error)

	// FindByScopeKey returns the conversation bound to the scope key, or
	// (nil, nil) when none exists yet.
	FindByScopeKey(ctx context.Context, scope datatypes.Scope, sessionID string, tableID *int) (*datatypes.ChatConversation, error)

	// Create persists a new conversation header.
	Create(ctx context.Context, conv *datatypes.ChatConversation) error

	// AppendMessage persists one message at the end of the conversation.
	AppendMessage(ctx context.Context, conversationID string, msg datatypes.ChatMessage) error
}
