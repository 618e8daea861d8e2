// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"sync"

	"github.com/eyescafe/chat-core/datatypes"
)

// MemoryStore is an in-process Store used in lightweight mode and tests.
//
// # Thread Safety
//
// Safe for concurrent use. Load returns deep-enough copies that callers
// cannot mutate stored state through the returned value.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*datatypes.ChatConversation
	byScope map[string]string // scope key -> conversation id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*datatypes.ChatConversation),
		byScope: make(map[string]string),
	}
}

// Load returns a copy of the stored conversation.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (*datatypes.ChatConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return nil, datatypes.NewError(datatypes.KindConversationNotFound, "conversation not found: "+conversationID)
	}
	return copyConversation(conv), nil
}

// FindByScopeKey returns the conversation bound to the scope key, or nil.
func (s *MemoryStore) FindByScopeKey(_ context.Context, scope datatypes.Scope, sessionID string, tableID *int) (*datatypes.ChatConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byScope[datatypes.ScopeKeyFor(scope, sessionID, tableID)]
	if !ok {
		return nil, nil
	}
	return copyConversation(s.byID[id]), nil
}

// Create persists a new conversation header.
func (s *MemoryStore) Create(_ context.Context, conv *datatypes.ChatConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyConversation(conv)
	s.byID[conv.ID] = stored
	s.byScope[conv.ScopeKey()] = conv.ID
	return nil
}

// AppendMessage appends one message to the stored conversation.
func (s *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg datatypes.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return datatypes.NewError(datatypes.KindConversationNotFound, "conversation not found: "+conversationID)
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func copyConversation(conv *datatypes.ChatConversation) *datatypes.ChatConversation {
	out := *conv
	out.Messages = make([]datatypes.ChatMessage, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
