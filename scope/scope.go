// Copyright (C) 2026 Eyes Cafe (dev@eyescafe.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scope resolves a requested chat scope into a concrete filter over
// the document index.
package scope

import (
	"fmt"

	"github.com/eyescafe/chat-core/datatypes"
)

// Filter constrains a document index query.
//
// A zero Filter matches every session (global scope). A set SessionID
// requires an exact session match; a set TableID additionally requires an
// exact table match. TableID is never set without SessionID.
type Filter struct {
	SessionID string
	TableID   *int
}

// MatchesAll reports whether the filter carries no constraint.
func (f Filter) MatchesAll() bool {
	return f.SessionID == "" && f.TableID == nil
}

// Matches reports whether a document with the given location satisfies the
// filter. Used by the in-memory index; the Weaviate index compiles the same
// predicate into a where clause.
func (f Filter) Matches(sessionID string, tableID *int) bool {
	if f.SessionID != "" && sessionID != f.SessionID {
		return false
	}
	if f.TableID != nil {
		if tableID == nil || *tableID != *f.TableID {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	if f.MatchesAll() {
		return "filter(all)"
	}
	if f.TableID != nil {
		return fmt.Sprintf("filter(session=%s table=%d)", f.SessionID, *f.TableID)
	}
	return fmt.Sprintf("filter(session=%s)", f.SessionID)
}

// Resolve interprets a requested scope into a Filter.
//
// # Rules
//
//   - global: no constraint (all sessions, all tables).
//   - session: exact sessionID match, any table.
//   - table: exact sessionID AND exact tableID match.
//
// # Outputs
//
//   - Filter: The compiled constraint.
//   - error: *datatypes.Error with KindInvalidScope when required
//     identifiers are missing or extraneous ones are present.
func Resolve(scope datatypes.Scope, sessionID string, tableID *int) (Filter, error) {
	if err := datatypes.ValidateScopeIdentifiers(scope, sessionID, tableID); err != nil {
		return Filter{}, err
	}

	switch scope {
	case datatypes.ScopeGlobal:
		return Filter{}, nil
	case datatypes.ScopeSession:
		return Filter{SessionID: sessionID}, nil
	default: // datatypes.ScopeTable, already validated
		return Filter{SessionID: sessionID, TableID: tableID}, nil
	}
}
