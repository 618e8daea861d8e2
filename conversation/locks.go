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
)

// lockTable is a keyed mutual-exclusion table: one token per key, created
// on demand and evicted once no holder or waiter remains, so abandoned
// conversations do not leak entries.
//
// Waiters are queued fairly through a buffered channel; a canceled context
// abandons the wait without disturbing the holder.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	// token holds one value when the slot is free.
	token chan struct{}
	// refs counts the holder plus all waiters.
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]*lockSlot)}
}

// Acquire blocks until the key's token is held or ctx is done.
//
// The returned release function is idempotent and must be called exactly
// once by the holder; it returns the token and evicts the slot when nobody
// else is interested.
func (t *lockTable) Acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	slot, ok := t.slots[key]
	if !ok {
		slot = &lockSlot{token: make(chan struct{}, 1)}
		slot.token <- struct{}{}
		t.slots[key] = slot
	}
	slot.refs++
	t.mu.Unlock()

	select {
	case <-slot.token:
		var once sync.Once
		release := func() {
			once.Do(func() {
				slot.token <- struct{}{}
				t.drop(key, slot)
			})
		}
		return release, nil
	case <-ctx.Done():
		t.drop(key, slot)
		return nil, ctx.Err()
	}
}

// drop decrements the slot's refcount and evicts it at zero.
func (t *lockTable) drop(key string, slot *lockSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(t.slots, key)
	}
}

// size returns the number of live slots. Test hook.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
